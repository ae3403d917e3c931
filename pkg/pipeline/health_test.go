package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthCounters(t *testing.T) {
	h := NewHealth()
	h.RecordFrame(1000, true)
	h.RecordFrame(800, false)
	h.RecordFrameDrop()
	h.RecordDecodeFailure()
	h.RecordNetworkError()

	s := h.Summary()
	assert.Equal(t, uint64(2), s.FramesProcessed)
	assert.Equal(t, uint64(1800), s.BytesProcessed)
	assert.Equal(t, uint64(1), s.KeyframesSeen)
	assert.Equal(t, uint64(1), s.FrameDrops)
	assert.InDelta(t, 1.0/3.0, s.DropRate, 0.001)
	assert.False(t, h.IsStalled(time.Hour))
}

func TestHealthStallDetection(t *testing.T) {
	h := NewHealth()
	assert.False(t, h.IsStalled(time.Millisecond))
	h.RecordFrame(100, false)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, h.IsStalled(time.Millisecond))
}
