package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-onsai/core/dialogue/fake"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeConversation(t *testing.T) {
	backend := httptest.NewServer(fake.NewServer(fake.WithSeed(1), fake.WithPlainText()).Handler())
	defer backend.Close()

	srv, err := newServer(settings{
		BackendURL:     backend.URL,
		RequestTimeout: time.Second,
		Streaming:      true,
	})
	require.NoError(t, err)
	defer srv.Close()

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/conversations?conversation_id=c7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameUtterance, Text: "hello"}))
	first := readWire(t, conn)
	assert.Equal(t, events.KindAssistantMessageToken, first.Kind)
	assert.Equal(t, "c7", first.ConversationID)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameUtterance, Text: "goodbye"}))
	var kinds []events.Kind
	for {
		wire := readWire(t, conn)
		kinds = append(kinds, wire.Kind)
		if wire.Kind == events.KindEndOfTurn {
			break
		}
	}
	assert.Contains(t, kinds, events.KindAssistantMessageToken)
	assert.Equal(t, events.KindEndOfTurn, kinds[len(kinds)-1])
}

func TestServeReportsFailedTurns(t *testing.T) {
	srv, err := newServer(settings{BackendURL: "http://127.0.0.1:1", RequestTimeout: time.Second})
	require.NoError(t, err)
	defer srv.Close()

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/conversations", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientFrame{Type: frameUtterance, Text: "hello"}))

	var frame failureFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, kindTurnFailed, frame.Kind)
	assert.NotEmpty(t, frame.ConversationID)
	assert.Contains(t, frame.Error, "unavailable")
}

func TestServeKeepsConversationOpenWithoutIdleTimeout(t *testing.T) {
	backend := httptest.NewServer(fake.NewServer(fake.WithReplies("Sure."), fake.WithPlainText()).Handler())
	defer backend.Close()

	srv, err := newServer(settings{BackendURL: backend.URL, RequestTimeout: time.Second})
	require.NoError(t, err)
	defer srv.Close()

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/conversations", nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, text := range []string{"hello", "what's new?", "and then?"} {
		require.NoError(t, conn.WriteJSON(clientFrame{Type: frameUtterance, Text: text}))
		wire := readWire(t, conn)
		assert.Equal(t, events.KindAssistantMessagePlain, wire.Kind)
		assert.Equal(t, "Sure.", wire.Text)
		time.Sleep(50 * time.Millisecond)
	}
}

func TestServeAnswersUtterancesInOrder(t *testing.T) {
	backend := httptest.NewServer(fake.NewServer(fake.WithReplies("Sure."), fake.WithPlainText()).Handler())
	defer backend.Close()

	srv, err := newServer(settings{BackendURL: backend.URL, RequestTimeout: time.Second})
	require.NoError(t, err)
	defer srv.Close()

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/conversations", nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, text := range []string{"hello", "what's new?", "goodbye"} {
		require.NoError(t, conn.WriteJSON(clientFrame{Type: frameUtterance, Text: text}))
	}

	var texts []string
	for {
		wire := readWire(t, conn)
		if wire.Kind == events.KindEndOfTurn {
			break
		}
		texts = append(texts, wire.Text)
	}
	assert.Equal(t, []string{"Sure.", "Sure.", "Goodbye, thank you for calling!"}, texts)
}

func readWire(t *testing.T, conn *websocket.Conn) events.Wire {
	t.Helper()

	var wire events.Wire
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&wire))
	return wire
}
