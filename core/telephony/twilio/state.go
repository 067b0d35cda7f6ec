package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/koscakluka/ema-onsai/core/conversations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var _ conversations.TelephonyStateV0 = (*CallState)(nil)

// CallState is the conversation state of a single Twilio call.
type CallState struct {
	client  *Client
	callSID string
	to      string
	from    string

	streamingSynthesizer bool

	mu    sync.Mutex
	ended bool
}

type CallStateOption func(*CallState)

// WithDestination sets the number the call is connected to.
func WithDestination(to string) CallStateOption {
	return func(s *CallState) { s.to = to }
}

func WithCaller(from string) CallStateOption {
	return func(s *CallState) { s.from = from }
}

// WithStreamingSynthesizer marks the call's synthesizer as able to consume
// incremental text.
func WithStreamingSynthesizer(streaming bool) CallStateOption {
	return func(s *CallState) { s.streamingSynthesizer = streaming }
}

func NewCallState(client *Client, callSID string, opts ...CallStateOption) (*CallState, error) {
	if client == nil {
		return nil, fmt.Errorf("twilio client is required")
	}
	if callSID == "" {
		return nil, fmt.Errorf("call sid is required")
	}

	s := &CallState{client: client, callSID: callSID}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *CallState) CallSID() string { return s.callSID }
func (s *CallState) Caller() string  { return s.from }

func (s *CallState) DestinationPhoneNumber() (string, bool) {
	return s.to, s.to != ""
}

func (s *CallState) UsingInputStreamingSynthesizer() bool {
	return s.streamingSynthesizer
}

// TerminateConversation hangs up the call. Calls that already ended fail with
// conversations.ErrConversationEnded.
func (s *CallState) TerminateConversation(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "hang up call")
	defer span.End()
	span.SetAttributes(attribute.String("call.sid", s.callSID))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return conversations.ErrConversationEnded
	}

	call, err := s.client.HangupCall(ctx, s.callSID)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			s.ended = true
			return fmt.Errorf("failed to hang up call %s: %w", s.callSID, errors.Join(conversations.ErrConversationEnded, err))
		}

		err = fmt.Errorf("failed to hang up call %s: %w", s.callSID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.ended = true
	logger.InfoContext(ctx, "call hung up", slog.String("call_sid", call.SID), slog.String("status", call.Status))
	return nil
}

// LookupCallState fetches the call and builds its state from the call's
// numbers.
func LookupCallState(ctx context.Context, client *Client, callSID string, opts ...CallStateOption) (*CallState, error) {
	call, err := client.GetCall(ctx, callSID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up call %s: %w", callSID, err)
	}

	state, err := NewCallState(client, callSID, append([]CallStateOption{WithDestination(call.To), WithCaller(call.From)}, opts...)...)
	if err != nil {
		return nil, err
	}
	state.ended = call.IsEnded()
	return state, nil
}
