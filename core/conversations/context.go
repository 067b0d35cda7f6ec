package conversations

import (
	"context"
	"errors"
)

// ErrConversationEnded is returned when a conversation is terminated after it
// already ended, e.g. because the caller hung up.
var ErrConversationEnded = errors.New("conversation already ended")

// StateV0 exposes the live conversation state the agent reads from and
// invokes lifecycle operations on. It is owned by the surrounding
// conversation session.
type StateV0 interface {
	// UsingInputStreamingSynthesizer reports whether the active synthesizer
	// consumes incremental text instead of complete utterances.
	UsingInputStreamingSynthesizer() bool

	// TerminateConversation ends the conversation. It may fail, e.g. when the
	// conversation already ended.
	TerminateConversation(ctx context.Context) error
}

// TelephonyStateV0 is a conversation state of a phone call.
type TelephonyStateV0 interface {
	StateV0

	// DestinationPhoneNumber is the number the call is connected to; false
	// when it is not known.
	DestinationPhoneNumber() (string, bool)
}
