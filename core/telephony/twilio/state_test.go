package twilio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/koscakluka/ema-onsai/core/conversations"
)

func TestTerminateConversationHangsUpCall(t *testing.T) {
	var hangups atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Calls/CA456.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if user, password, ok := r.BasicAuth(); !ok || user != "AC123" || password != "secret" {
			t.Errorf("expected basic auth with account credentials")
		}
		body, _ := io.ReadAll(r.Body)
		values, _ := url.ParseQuery(string(body))
		if r.Method != http.MethodPost || values.Get("Status") != "completed" {
			t.Errorf("expected POST with Status=completed, got %s %q", r.Method, body)
		}
		hangups.Add(1)
		io.WriteString(w, `{"sid":"CA456","to":"+4917643806827","status":"completed"}`)
	}))
	defer server.Close()

	state := newTestCallState(t, server.URL, WithDestination("+4917643806827"))

	if err := state.TerminateConversation(context.Background()); err != nil {
		t.Fatalf("expected hang up to succeed, got %v", err)
	}
	if err := state.TerminateConversation(context.Background()); !errors.Is(err, conversations.ErrConversationEnded) {
		t.Fatalf("expected ErrConversationEnded on second termination, got %v", err)
	}
	if got := hangups.Load(); got != 1 {
		t.Fatalf("expected exactly one hang up request, got %d", got)
	}
}

func TestTerminateConversationOnUnknownCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":20404,"message":"The requested resource was not found"}`)
	}))
	defer server.Close()

	err := newTestCallState(t, server.URL).TerminateConversation(context.Background())
	if !errors.Is(err, conversations.ErrConversationEnded) {
		t.Fatalf("expected ErrConversationEnded, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 20404 {
		t.Fatalf("expected twilio api error to be kept, got %v", err)
	}
}

func TestTerminateConversationServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestCallState(t, server.URL).TerminateConversation(context.Background())
	if err == nil || errors.Is(err, conversations.ErrConversationEnded) {
		t.Fatalf("expected a plain failure, got %v", err)
	}
}

func TestLookupCallStateUsesCallNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		io.WriteString(w, `{"sid":"CA456","to":"+4917643806827","from":"+15005550006","status":"in-progress"}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{AccountSID: "AC123", AuthToken: "secret", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	state, err := LookupCallState(context.Background(), client, "CA456", WithStreamingSynthesizer(true))
	if err != nil {
		t.Fatalf("failed to look up call: %v", err)
	}

	var telephony conversations.TelephonyStateV0 = state
	phone, ok := telephony.DestinationPhoneNumber()
	if !ok || phone != "+4917643806827" {
		t.Fatalf("expected destination phone number, got %q (%t)", phone, ok)
	}
	if state.Caller() != "+15005550006" {
		t.Fatalf("expected caller number, got %q", state.Caller())
	}
	if !telephony.UsingInputStreamingSynthesizer() {
		t.Fatalf("expected streaming synthesizer option to be applied")
	}
}

func TestDestinationPhoneNumberMissing(t *testing.T) {
	state := newTestCallState(t, "http://127.0.0.1:1")
	if phone, ok := state.DestinationPhoneNumber(); ok {
		t.Fatalf("expected no destination phone number, got %q", phone)
	}
}

func newTestCallState(t *testing.T, baseURL string, opts ...CallStateOption) *CallState {
	t.Helper()
	client, err := NewClient(Config{AccountSID: "AC123", AuthToken: "secret", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	state, err := NewCallState(client, "CA456", opts...)
	if err != nil {
		t.Fatalf("failed to create call state: %v", err)
	}
	return state
}
