package receiver

import (
	"testing"
	"time"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logger.Logger {
	l, _ := logger.New(logger.Config{Level: logger.LevelError})
	return l
}

func videoFrame(ptsUs int64) pipeline.TimedVideoFrame {
	return pipeline.TimedVideoFrame{PTS: pipeline.FromMicros(ptsUs)}
}

func TestSyncPassthroughNoAudio(t *testing.T) {
	cfg := DefaultSyncConfig()
	cfg.PlayoutDelay = time.Millisecond
	tracker := NewAudioPlaybackTracker()

	in := make(chan pipeline.TimedVideoFrame, 10)
	out := make(chan pipeline.TimedVideoFrame, 10)
	health := pipeline.NewHealth()
	s := NewSyncStage(cfg, tracker, in, out, health, testLogger())

	s.enqueue(videoFrame(1000))
	s.enqueue(videoFrame(2000))

	time.Sleep(2 * time.Millisecond)
	s.processQueue()
	s.processQueue()

	assert.Len(t, out, 2)
}

func TestSyncWithAudioReference(t *testing.T) {
	cfg := DefaultSyncConfig()
	tracker := NewAudioPlaybackTracker()
	tracker.Advance(0)

	in := make(chan pipeline.TimedVideoFrame, 10)
	out := make(chan pipeline.TimedVideoFrame, 10)
	health := pipeline.NewHealth()
	s := NewSyncStage(cfg, tracker, in, out, health, testLogger())

	s.enqueue(videoFrame(0))
	s.processQueue()

	assert.Len(t, out, 1)
}

func TestSyncDropsLateFrames(t *testing.T) {
	cfg := DefaultSyncConfig()
	tracker := NewAudioPlaybackTracker()
	tracker.Advance(500 * time.Millisecond)

	in := make(chan pipeline.TimedVideoFrame, 10)
	out := make(chan pipeline.TimedVideoFrame, 10)
	health := pipeline.NewHealth()
	s := NewSyncStage(cfg, tracker, in, out, health, testLogger())

	// PTS far behind the audio master clock: should be dropped, not
	// emitted.
	s.enqueue(videoFrame(0))
	s.processQueue()

	assert.Len(t, out, 0)
	assert.Equal(t, uint64(1), s.dropped)
}
