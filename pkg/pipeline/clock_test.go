package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockBasic(t *testing.T) {
	c := NewMediaClock()
	t1 := c.VideoNow()
	time.Sleep(2 * time.Millisecond)
	t2 := c.VideoNow()
	assert.GreaterOrEqual(t, int64(t2), int64(t1))
}

func TestClockOffsets(t *testing.T) {
	c := NewMediaClock()
	c.SetVideoOffset(1000)
	c.SetAudioOffset(-500)
	assert.Equal(t, int64(1500), c.AVSyncOffset())

	c.AdjustVideoOffset(100)
	assert.Equal(t, int64(1100), c.videoOffsetUs.Load())

	c.ResetOffsets()
	assert.Equal(t, int64(0), c.AVSyncOffset())
}

func TestCorrelationID(t *testing.T) {
	c := NewMediaClock()
	a := c.NextCorrelationID()
	b := c.NextCorrelationID()
	assert.Equal(t, a+1, b)
}

func TestAVSync(t *testing.T) {
	c := NewMediaClock()
	c.SetVideoOffset(100)
	c.SetAudioOffset(100)
	assert.True(t, c.IsSynced(0))

	c.SetVideoOffset(250)
	assert.False(t, c.IsSynced(100))
	assert.True(t, c.IsSynced(150))

	c.SyncVideoToAudio()
	assert.True(t, c.IsSynced(0))
}

func TestAdjustOffset(t *testing.T) {
	c := NewMediaClock()
	c.AdjustAudioOffset(50)
	c.AdjustAudioOffset(50)
	assert.Equal(t, int64(100), c.audioOffsetUs.Load())
}
