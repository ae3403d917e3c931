package receiver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethan/screencaster/pkg/logger"
	"github.com/ethan/screencaster/pkg/pipeline"
)

// SyncConfig parameterizes the A/V sync stage.
type SyncConfig struct {
	PlayoutDelay    time.Duration
	MaxDrift        time.Duration
	FrameTolerance  time.Duration
	MaxVideoQueue   int
	MaxAudioQueue   int
}

// DefaultSyncConfig matches the values recommended in the design
// notes: 200ms initial buffering, 100ms max drift, ~2 frames (66ms)
// tolerance at 30fps, a 120-frame video queue ceiling.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PlayoutDelay:   200 * time.Millisecond,
		MaxDrift:       100 * time.Millisecond,
		FrameTolerance: 66 * time.Millisecond,
		MaxVideoQueue:  120,
		MaxAudioQueue:  240,
	}
}

// AudioPlaybackTracker exposes the audio device's current playback
// position as the pipeline's master clock. One producer (the audio
// playback stage, advancing position as it consumes the ring buffer),
// many readers (the sync stage).
type AudioPlaybackTracker struct {
	positionUs atomic.Int64
	started    atomic.Bool
}

// NewAudioPlaybackTracker returns a tracker with no playback started
// yet.
func NewAudioPlaybackTracker() *AudioPlaybackTracker {
	return &AudioPlaybackTracker{}
}

// Advance moves the tracked position forward by d and marks playback
// as started.
func (t *AudioPlaybackTracker) Advance(d time.Duration) {
	t.positionUs.Add(d.Microseconds())
	t.started.Store(true)
}

// Position returns the current playback position as a Timestamp.
func (t *AudioPlaybackTracker) Position() pipeline.Timestamp {
	return pipeline.Timestamp(t.positionUs.Load())
}

// Started reports whether audio playback has begun.
func (t *AudioPlaybackTracker) Started() bool {
	return t.started.Load()
}

// SyncStage holds decoded video frames in a PTS-ordered queue and
// releases them against the audio master clock.
type SyncStage struct {
	cfg     SyncConfig
	tracker *AudioPlaybackTracker
	health  *pipeline.Health
	log     *logger.Logger

	in  <-chan pipeline.TimedVideoFrame
	out chan<- pipeline.TimedVideoFrame

	queue       []pipeline.TimedVideoFrame
	playoutAt   time.Time
	lastEmitted pipeline.Timestamp
	hasEmitted  bool

	dropped uint64
	emitted uint64
}

// NewSyncStage wires a sync stage between in and out.
func NewSyncStage(cfg SyncConfig, tracker *AudioPlaybackTracker, in <-chan pipeline.TimedVideoFrame, out chan<- pipeline.TimedVideoFrame, health *pipeline.Health, log *logger.Logger) *SyncStage {
	return &SyncStage{
		cfg:       cfg,
		tracker:   tracker,
		health:    health,
		log:       log,
		in:        in,
		out:       out,
		playoutAt: time.Now(),
	}
}

// Run blocks, ticking every 5ms, until ctx is canceled or the input
// channel closes.
func (s *SyncStage) Run(ctx context.Context) {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.in:
			if !ok {
				return
			}
			s.enqueue(f)
		case <-tick.C:
			s.processQueue()
		case <-statsTicker.C:
			s.log.Info("sync stage stats", "emitted", s.emitted, "dropped", s.dropped, "queued", len(s.queue))
		}
	}
}

func (s *SyncStage) enqueue(f pipeline.TimedVideoFrame) {
	s.queue = append(s.queue, f)
	if len(s.queue) > s.cfg.MaxVideoQueue {
		s.queue = s.queue[1:]
		s.dropped++
		s.health.RecordFrameDrop()
	}
}

// processQueue implements the per-tick release algorithm described in
// the A/V sync design.
func (s *SyncStage) processQueue() {
	if !s.tracker.Started() {
		if time.Since(s.playoutAt) < s.cfg.PlayoutDelay {
			return
		}
		// Passthrough: no audio reference has ever been available,
		// emit the front frame immediately.
		if len(s.queue) > 0 {
			s.emitFront()
		}
		return
	}

	for len(s.queue) > 0 {
		a := s.tracker.Position()
		v := s.queue[0].PTS

		if v <= a+pipeline.Timestamp(s.cfg.FrameTolerance.Microseconds()) {
			drift := a - v
			if drift > pipeline.Timestamp(s.cfg.MaxDrift.Microseconds()) {
				s.queue = s.queue[1:]
				s.dropped++
				s.health.RecordFrameDrop()
				continue
			}
			s.emitFront()
			break
		}

		// v > a + tolerance: hold.
		break
	}

	if len(s.queue) > s.cfg.MaxVideoQueue {
		s.queue = s.queue[len(s.queue)-s.cfg.MaxVideoQueue:]
	}
}

func (s *SyncStage) emitFront() {
	f := s.queue[0]
	s.queue = s.queue[1:]

	if s.hasEmitted && f.PTS < s.lastEmitted {
		// Guarantee non-decreasing PTS even under passthrough.
		f.PTS = s.lastEmitted
	}
	s.lastEmitted = f.PTS
	s.hasEmitted = true
	s.emitted++

	select {
	case s.out <- f:
	default:
		s.dropped++
		s.health.RecordFrameDrop()
	}
}
