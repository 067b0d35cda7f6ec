package conversations

import (
	"context"
	"sync"
	"sync/atomic"
)

// LocalState is a conversation state for sessions that are not phone calls,
// such as a terminal chat or a websocket client.
type LocalState struct {
	streamingSynthesizer atomic.Bool

	endOnce sync.Once
	ended   chan struct{}
}

func NewLocalState(streamingSynthesizer bool) *LocalState {
	s := &LocalState{ended: make(chan struct{})}
	s.streamingSynthesizer.Store(streamingSynthesizer)
	return s
}

func (s *LocalState) UsingInputStreamingSynthesizer() bool {
	return s.streamingSynthesizer.Load()
}

// SetStreamingSynthesizer switches the synthesizer capability, it takes
// effect on the next turn.
func (s *LocalState) SetStreamingSynthesizer(streaming bool) {
	s.streamingSynthesizer.Store(streaming)
}

func (s *LocalState) TerminateConversation(context.Context) error {
	terminated := false
	s.endOnce.Do(func() {
		close(s.ended)
		terminated = true
	})
	if !terminated {
		return ErrConversationEnded
	}
	return nil
}

// Done is closed once the conversation was terminated.
func (s *LocalState) Done() <-chan struct{} {
	return s.ended
}
