package orchestration

import "errors"

var (
	// ErrTurnCancelled is returned by a turn that was cancelled or
	// interrupted before it emitted anything.
	ErrTurnCancelled = errors.New("turn cancelled")
	// ErrTurnConsumed is returned when a turn's event sequence is iterated a
	// second time.
	ErrTurnConsumed = errors.New("turn already consumed")
	// ErrAgentClosed is returned by turns started after the agent was closed.
	ErrAgentClosed = errors.New("agent closed")
)
