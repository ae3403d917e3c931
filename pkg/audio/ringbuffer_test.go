package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferWriteReadRoundTrip(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]float32{1, 2, 3, 4})
	out := make([]float32, 4)
	r.Read(out)
	assert.Equal(t, []float32{1, 2, 3, 4}, out)
}

func TestRingBufferUnderrunZeroPads(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]float32{1, 2})
	out := make([]float32, 4)
	r.Read(out)
	assert.Equal(t, []float32{1, 2, 0, 0}, out)
}

func TestRingBufferOverflowEvictsOldest(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, uint64(2), r.Dropped())

	out := make([]float32, 4)
	r.Read(out)
	assert.Equal(t, []float32{3, 4, 5, 6}, out)
}

func TestRingBufferAvailableTracksUnreadSamples(t *testing.T) {
	r := NewRingBuffer(16)
	r.Write([]float32{1, 2, 3})
	assert.Equal(t, 3, r.Available())
	out := make([]float32, 2)
	r.Read(out)
	assert.Equal(t, 1, r.Available())
}

func TestDownmixMonoDuplicatesToStereo(t *testing.T) {
	// one mono sample, 16-bit little-endian value 0x0102
	pcm := []byte{0x02, 0x01}
	out := Downmix(pcm, 1)
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x01}, out)
}

func TestDownmixZeroChannelsYieldsSilence(t *testing.T) {
	out := Downmix([]byte{1, 2, 3, 4}, 0)
	assert.Equal(t, make([]byte, 4), out)
}

func TestDownmixMultiChannelKeepsFirstTwo(t *testing.T) {
	// one frame, 4 channels, 2 bytes each
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	out := Downmix(pcm, 4)
	assert.Equal(t, []byte{1, 0, 2, 0}, out)
}
