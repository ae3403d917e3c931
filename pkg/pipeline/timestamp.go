// Package pipeline implements the shared types and coordination
// primitives used by both the sender and receiver media pipelines:
// timestamps, the media clock, pipeline state machine, and health
// counters.
package pipeline

import (
	"fmt"
	"time"
)

// Timestamp is a signed microsecond offset from pipeline start.
type Timestamp int64

// FromMicros builds a Timestamp directly from a microsecond count.
func FromMicros(us int64) Timestamp {
	return Timestamp(us)
}

// FromDuration builds a Timestamp from a time.Duration measured since
// pipeline start.
func FromDuration(d time.Duration) Timestamp {
	return Timestamp(d.Microseconds())
}

// Micros returns the raw microsecond value.
func (t Timestamp) Micros() int64 {
	return int64(t)
}

// AsDuration returns the timestamp as a time.Duration.
func (t Timestamp) AsDuration() time.Duration {
	return time.Duration(t) * time.Microsecond
}

// Add returns t shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d.Microseconds())
}

// Sub returns t shifted backward by d.
func (t Timestamp) Sub(d time.Duration) Timestamp {
	return t - Timestamp(d.Microseconds())
}

// Diff returns the signed duration from other to t (t - other).
func (t Timestamp) Diff(other Timestamp) time.Duration {
	return time.Duration(t-other) * time.Microsecond
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%dus", int64(t))
}
