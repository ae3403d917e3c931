package pipeline

import (
	"fmt"
	"time"
)

// StateKind enumerates the pipeline lifecycle states.
type StateKind int

const (
	Idle StateKind = iota
	Initializing
	Running
	Paused
	Stopping
	Stopped
)

func (k StateKind) String() string {
	switch k {
	case Idle:
		return "Idle"
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// State is a PipelineState value: a kind plus the instant it was
// entered, for the two kinds that carry one (Running, Paused).
type State struct {
	Kind      StateKind
	EnteredAt time.Time
}

func newState(kind StateKind) State {
	return State{Kind: kind, EnteredAt: time.Now()}
}

// IdleState, InitializingState, StoppingState, StoppedState construct
// the data-less variants.
func IdleState() State         { return State{Kind: Idle} }
func InitializingState() State { return State{Kind: Initializing} }
func StoppingState() State     { return State{Kind: Stopping} }
func StoppedState() State      { return State{Kind: Stopped} }

// RunningState constructs a Running state entered now.
func RunningState() State { return newState(Running) }

// PausedState constructs a Paused state entered now.
func PausedState() State { return newState(Paused) }

// CanTransitionTo reports whether moving from s to next is a valid
// pipeline transition.
func (s State) CanTransitionTo(next StateKind) bool {
	switch s.Kind {
	case Idle:
		return next == Initializing
	case Initializing:
		return next == Running || next == Stopping
	case Running:
		return next == Paused || next == Stopping
	case Paused:
		return next == Running || next == Stopping
	case Stopping:
		return next == Stopped
	case Stopped:
		return false
	default:
		return false
	}
}

// Description returns a short human-readable description of the state.
func (s State) Description() string {
	switch s.Kind {
	case Idle:
		return "idle, not yet initialized"
	case Initializing:
		return "initializing pipeline components"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped (terminal)"
	default:
		return "unknown"
	}
}

func (s State) IsActive() bool {
	return s.Kind == Running || s.Kind == Paused
}

func (s State) IsRunning() bool {
	return s.Kind == Running
}

func (s State) IsPaused() bool {
	return s.Kind == Paused
}

func (s State) IsStopped() bool {
	return s.Kind == Stopped
}

// RunningDuration returns how long the pipeline has been in the
// Running state, or zero if it is not currently Running.
func (s State) RunningDuration() time.Duration {
	if s.Kind != Running {
		return 0
	}
	return time.Since(s.EnteredAt)
}

func (s State) String() string {
	return fmt.Sprintf("%s (%s)", s.Kind, s.Description())
}
