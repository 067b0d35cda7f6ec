package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-onsai/internal/utils"
)

func TestSendPostsTurnRequestAndParsesReply(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/completion" {
			t.Errorf("expected POST /completion, got %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		io.WriteString(w, `{"bot_response":"You can park in the Garage for free.","end_conversation":false,"conversation_id":"abc-123"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	reply, err := client.Send(context.Background(), TurnRequest{
		UserInput:      "Where can I park?",
		PhoneNumber:    utils.Ptr("+4917643806827"),
		ConversationID: "abc-123",
	})
	if err != nil {
		t.Fatalf("expected reply, got error %v", err)
	}

	if reply.BotResponse != "You can park in the Garage for free." {
		t.Fatalf("unexpected bot response %q", reply.BotResponse)
	}
	if reply.EndConversation {
		t.Fatalf("expected end_conversation to be false")
	}
	if received["user_input"] != "Where can I park?" || received["conversation_id"] != "abc-123" {
		t.Fatalf("unexpected request body %v", received)
	}
	if received["phone_number"] != "+4917643806827" {
		t.Fatalf("expected phone number in request body, got %v", received["phone_number"])
	}
}

func TestSendWithoutPhoneNumberSendsNull(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		io.WriteString(w, `{"bot_response":"Hi","conversation_id":"abc-123"}`)
	}))
	defer server.Close()

	reply, err := newTestClient(t, server.URL).Send(context.Background(), TurnRequest{UserInput: "Hello", ConversationID: "abc-123"})
	if err != nil {
		t.Fatalf("expected reply, got error %v", err)
	}

	phone, present := received["phone_number"]
	if !present || phone != nil {
		t.Fatalf("expected phone_number to be null, got %v (present: %t)", phone, present)
	}
	if reply.EndConversation {
		t.Fatalf("expected missing end_conversation to default to false")
	}
}

func TestSendFailsWithProtocolError(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"detail":"boom"}`},
		{name: "not found", status: http.StatusNotFound, body: `not found`},
		{name: "malformed json", status: http.StatusOK, body: `{"bot_response":`},
		{name: "missing bot response", status: http.StatusOK, body: `{"conversation_id":"abc-123"}`},
		{name: "wrong type", status: http.StatusOK, body: `{"bot_response":"Hi","end_conversation":"yes","conversation_id":"abc-123"}`},
		{name: "conversation mismatch", status: http.StatusOK, body: `{"bot_response":"Hi","conversation_id":"f38e26dd-16d4-4ada-a77e-e09ad9b1a2e6"}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(testCase.status)
				io.WriteString(w, testCase.body)
			}))
			defer server.Close()

			reply, err := newTestClient(t, server.URL).Send(context.Background(), TurnRequest{UserInput: "Hi", ConversationID: "abc-123"})
			if reply != nil {
				t.Fatalf("expected no reply, got %+v", reply)
			}
			if !errors.Is(err, ErrBackendProtocol) {
				t.Fatalf("expected ErrBackendProtocol, got %v", err)
			}
			if errors.Is(err, ErrBackendUnavailable) {
				t.Fatalf("expected protocol error not to match ErrBackendUnavailable")
			}

			var protocolErr *ProtocolError
			if !errors.As(err, &protocolErr) {
				t.Fatalf("expected *ProtocolError, got %T", err)
			}
			if protocolErr.Payload != testCase.body {
				t.Fatalf("expected offending payload %q, got %q", testCase.body, protocolErr.Payload)
			}
			if protocolErr.StatusCode != testCase.status {
				t.Fatalf("expected status %d, got %d", testCase.status, protocolErr.StatusCode)
			}
		})
	}
}

func TestSendTimeoutIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Send(context.Background(), TurnRequest{UserInput: "Hi", ConversationID: "abc-123"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSendUnreachableBackendIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).Send(context.Background(), TurnRequest{UserInput: "Hi", ConversationID: "abc-123"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSendCancelledContextReleasesRequest(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the server only notices the client going away once the body is consumed
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
		close(released)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, server.URL).Send(ctx, TurnRequest{UserInput: "Hi", ConversationID: "abc-123"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled to be wrapped, got %v", err)
	}

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the backend request to be released")
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, baseURL := range []string{"", "localhost:8000/", "/relative"} {
		if _, err := NewClient(baseURL); err == nil {
			t.Fatalf("expected base url %q to be rejected", baseURL)
		}
	}

	client, err := NewClient("http://localhost:8000/")
	if err != nil {
		t.Fatalf("expected valid base url, got %v", err)
	}
	if client.completionURL != "http://localhost:8000/completion" {
		t.Fatalf("unexpected completion url %q", client.completionURL)
	}
}

func TestTurnResponseSchemaRequiresReplyFields(t *testing.T) {
	schema, err := TurnResponseSchema()
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	for _, field := range []string{`"bot_response"`, `"end_conversation"`, `"conversation_id"`, `"required"`} {
		if !strings.Contains(string(schema), field) {
			t.Fatalf("expected schema to mention %s, got %s", field, schema)
		}
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(baseURL, WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}
