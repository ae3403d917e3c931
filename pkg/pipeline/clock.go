package pipeline

import (
	"sync/atomic"
	"time"
)

// MediaClock is the shared pipeline timeline: a base instant plus
// independent microsecond offsets for the video and audio lanes, and a
// monotonic counter that mints correlation IDs tagging frames captured
// at the same instant across lanes.
//
// One MediaClock is created per pipeline and shared by every stage.
type MediaClock struct {
	base          time.Time
	videoOffsetUs atomic.Int64
	audioOffsetUs atomic.Int64
	correlation   atomic.Uint64
}

// NewMediaClock creates a clock whose base instant is now.
func NewMediaClock() *MediaClock {
	return &MediaClock{base: time.Now()}
}

// VideoNow returns the current video-lane timestamp.
func (c *MediaClock) VideoNow() Timestamp {
	return c.TimestampFromInstant(time.Now(), true)
}

// AudioNow returns the current audio-lane timestamp.
func (c *MediaClock) AudioNow() Timestamp {
	return c.TimestampFromInstant(time.Now(), false)
}

// TimestampFromInstant converts an arbitrary instant into a lane
// timestamp, honoring that lane's offset.
func (c *MediaClock) TimestampFromInstant(instant time.Time, video bool) Timestamp {
	elapsed := instant.Sub(c.base).Microseconds()
	offset := c.audioOffsetUs.Load()
	if video {
		offset = c.videoOffsetUs.Load()
	}
	return Timestamp(elapsed + offset)
}

// TimestampFromDuration converts a duration-since-base into a lane
// timestamp, honoring that lane's offset.
func (c *MediaClock) TimestampFromDuration(d time.Duration, video bool) Timestamp {
	offset := c.audioOffsetUs.Load()
	if video {
		offset = c.videoOffsetUs.Load()
	}
	return Timestamp(d.Microseconds() + offset)
}

// SetVideoOffset overwrites the video lane's offset.
func (c *MediaClock) SetVideoOffset(us int64) {
	c.videoOffsetUs.Store(us)
}

// SetAudioOffset overwrites the audio lane's offset.
func (c *MediaClock) SetAudioOffset(us int64) {
	c.audioOffsetUs.Store(us)
}

// AdjustVideoOffset adds delta to the video lane's offset.
func (c *MediaClock) AdjustVideoOffset(delta int64) {
	c.videoOffsetUs.Add(delta)
}

// AdjustAudioOffset adds delta to the audio lane's offset.
func (c *MediaClock) AdjustAudioOffset(delta int64) {
	c.audioOffsetUs.Add(delta)
}

// ResetOffsets zeroes both lane offsets.
func (c *MediaClock) ResetOffsets() {
	c.videoOffsetUs.Store(0)
	c.audioOffsetUs.Store(0)
}

// NextCorrelationID returns a fresh monotonically increasing ID tagging
// frames produced from the same capture instant across lanes.
func (c *MediaClock) NextCorrelationID() uint64 {
	return c.correlation.Add(1)
}

// AVSyncOffset returns the signed difference, in microseconds, between
// the video and audio lane offsets (video - audio).
func (c *MediaClock) AVSyncOffset() int64 {
	return c.videoOffsetUs.Load() - c.audioOffsetUs.Load()
}

// IsSynced reports whether the two lanes are within toleranceUs of each
// other.
func (c *MediaClock) IsSynced(toleranceUs int64) bool {
	d := c.AVSyncOffset()
	if d < 0 {
		d = -d
	}
	return d <= toleranceUs
}

// SyncVideoToAudio sets the video offset equal to the audio offset.
func (c *MediaClock) SyncVideoToAudio() {
	c.videoOffsetUs.Store(c.audioOffsetUs.Load())
}

// SyncAudioToVideo sets the audio offset equal to the video offset.
func (c *MediaClock) SyncAudioToVideo() {
	c.audioOffsetUs.Store(c.videoOffsetUs.Load())
}
