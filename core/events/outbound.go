package events

const (
	// KindAssistantMessagePlain identifies a complete plain-text reply.
	KindAssistantMessagePlain Kind = "assistant_message.plain"
	// KindAssistantMessageMarkup identifies a complete reply carrying
	// synthesis markup.
	KindAssistantMessageMarkup Kind = "assistant_message.markup"
	// KindAssistantMessageToken identifies a partial reply fragment for
	// synthesizers that consume incremental text.
	KindAssistantMessageToken Kind = "assistant_message.token"
	// KindEndOfTurn identifies the terminal marker of a turn that ends the
	// conversation.
	KindEndOfTurn Kind = "turn_state.end_of_turn"
)

// OutboundEvent is a single event handed to the downstream synthesis
// consumer for the current turn.
type OutboundEvent interface {
	Event
	// IsInterruptible reports whether user speech may preempt the event.
	IsInterruptible() bool
}

// ContentEvent is an outbound event that carries reply text.
type ContentEvent interface {
	OutboundEvent
	// Content is the text the synthesizer should consume: the markup for
	// markup messages, the text otherwise.
	Content() string
}

// PlainMessage carries a complete reply as plain text.
type PlainMessage struct {
	Base
	Text string
}

// NewPlainMessage creates a plain message event.
func NewPlainMessage(text string) PlainMessage {
	return PlainMessage{Base: NewBase(KindAssistantMessagePlain), Text: text}
}

func (m PlainMessage) IsInterruptible() bool { return true }
func (m PlainMessage) Content() string       { return m.Text }

// MarkupMessage carries a complete reply as synthesis markup. Text is the
// fallback rendering for consumers that cannot interpret markup.
type MarkupMessage struct {
	Base
	Markup string
	Text   string
}

// NewMarkupMessage creates a markup message event.
func NewMarkupMessage(markup, text string) MarkupMessage {
	return MarkupMessage{Base: NewBase(KindAssistantMessageMarkup), Markup: markup, Text: text}
}

func (m MarkupMessage) IsInterruptible() bool { return true }
func (m MarkupMessage) Content() string       { return m.Markup }

// TokenFragment carries a partial reply. Fragments of a turn are emitted in
// reply order and concatenate to the full reply.
type TokenFragment struct {
	Base
	Text string
}

// NewTokenFragment creates a token fragment event.
func NewTokenFragment(text string) TokenFragment {
	return TokenFragment{Base: NewBase(KindAssistantMessageToken), Text: text}
}

func (f TokenFragment) IsInterruptible() bool { return true }
func (f TokenFragment) Content() string       { return f.Text }

// EndOfTurnSignal marks the end of a turn after which the conversation is
// terminated. It is always the last event of its turn.
type EndOfTurnSignal struct{ Base }

// NewEndOfTurnSignal creates an end of turn signal.
func NewEndOfTurnSignal() EndOfTurnSignal {
	return EndOfTurnSignal{Base: NewBase(KindEndOfTurn)}
}

func (s EndOfTurnSignal) IsInterruptible() bool { return false }
