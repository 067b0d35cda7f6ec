package orchestration

import (
	"context"
	"sync"
)

// TurnStage is the position of a turn in its lifecycle.
type TurnStage string

const (
	TurnStageIdle               TurnStage = "idle"
	TurnStageRequestBuilt       TurnStage = "request_built"
	TurnStageAwaitingBackend    TurnStage = "awaiting_backend"
	TurnStageEmitting           TurnStage = "emitting"
	TurnStageSignalingEndOfTurn TurnStage = "signaling_end_of_turn"
)

type activeTurn struct {
	id     uint64
	cancel context.CancelFunc

	mu    sync.Mutex
	stage TurnStage
}

func (t *activeTurn) Stage() TurnStage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

func (t *activeTurn) setStage(stage TurnStage) {
	t.mu.Lock()
	t.stage = stage
	t.mu.Unlock()
}

// turns tracks the turns of an agent that are in flight.
type turns struct {
	mu     sync.Mutex
	nextID uint64
	active map[uint64]*activeTurn
	latest *activeTurn
	closed bool
}

func newTurns() *turns {
	return &turns{active: map[uint64]*activeTurn{}}
}

// start registers a new turn bound to ctx. Interrupting turns cancel every
// turn still in flight first.
func (t *turns) start(ctx context.Context, interrupt bool) (*activeTurn, context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil, ErrAgentClosed
	}
	if interrupt {
		t.cancelAllLocked()
	}

	ctx, cancel := context.WithCancel(ctx)
	t.nextID++
	turn := &activeTurn{id: t.nextID, cancel: cancel, stage: TurnStageIdle}
	t.active[turn.id] = turn
	t.latest = turn

	return turn, ctx, nil
}

func (t *turns) finish(turn *activeTurn) {
	turn.cancel()
	turn.setStage(TurnStageIdle)

	t.mu.Lock()
	delete(t.active, turn.id)
	t.mu.Unlock()
}

func (t *turns) cancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelAllLocked()
}

func (t *turns) cancelAllLocked() int {
	for _, turn := range t.active {
		turn.cancel()
	}
	return len(t.active)
}

func (t *turns) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cancelAllLocked()
}

func (t *turns) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *turns) latestStage() TurnStage {
	t.mu.Lock()
	latest := t.latest
	t.mu.Unlock()

	if latest == nil {
		return TurnStageIdle
	}
	return latest.Stage()
}
