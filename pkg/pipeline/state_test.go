package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, Idle, m.Current().Kind)

	m.Transition(InitializingState())
	assert.Equal(t, Initializing, m.Current().Kind)

	m.Transition(RunningState())
	assert.True(t, m.Current().IsRunning())

	m.Transition(PausedState())
	assert.True(t, m.Current().IsPaused())

	m.Transition(RunningState())
	m.Transition(StoppingState())
	m.Transition(StoppedState())
	assert.True(t, m.Current().IsStopped())
}

func TestInvalidTransitions(t *testing.T) {
	m := NewStateMachine()
	assert.False(t, m.TryTransition(RunningState()))
	assert.False(t, m.TryTransition(PausedState()))

	m.Transition(InitializingState())
	m.Transition(RunningState())
	m.Transition(StoppingState())
	m.Transition(StoppedState())

	assert.False(t, m.TryTransition(InitializingState()))
	assert.False(t, m.TryTransition(RunningState()))

	assert.Panics(t, func() {
		m.Transition(RunningState())
	})
}

func TestStateChecks(t *testing.T) {
	m := NewStateMachine()
	m.Transition(InitializingState())
	m.Transition(RunningState())
	assert.True(t, m.Current().IsActive())
	assert.Greater(t, m.Current().RunningDuration().Nanoseconds(), int64(-1))

	m.Transition(PausedState())
	assert.True(t, m.Current().IsActive())
	assert.Equal(t, int64(0), m.Current().RunningDuration().Nanoseconds())
}
