// Package fake is an in-process stand-in for the dialogue backend. It replies
// with canned markup and is used by tests and the fake-backend command.
package fake

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"

	"github.com/koscakluka/ema-onsai/core/dialogue"
	"github.com/koscakluka/ema-onsai/core/markup"
)

// DefaultConversationID is used for replies to requests that carry no
// conversation id, e.g. GET requests.
const DefaultConversationID = "f38e26dd-16d4-4ada-a77e-e09ad9b1a2e6"

var DefaultReplies = []string{
	"I am a bot.",
	"How can I assist you today?",
	"Please provide more details.",
	"Thank you for your patience.",
	"I am here to help.",
	"Can you please clarify?",
	"Let's solve this together.",
	"What else can I do for you?",
	"I appreciate your input.",
	"Feel free to ask me anything.",
	"I am listening.",
	"You can park in the Garage for free. How else may I help you?",
}

var farewells = []string{"bye", "goodbye", "tschüss", "auf wiedersehen"}

type Server struct {
	mu      sync.Mutex
	rng     *rand.Rand
	replies []string

	plainText      bool
	markupOptions  []markup.Option
	farewellReply  string
	requestsServed int
}

type Option func(*Server)

// WithReplies replaces the canned replies the server picks from.
func WithReplies(replies ...string) Option {
	return func(s *Server) { s.replies = append([]string(nil), replies...) }
}

// WithSeed makes reply selection deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Server) { s.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithPlainText disables the markup envelope around replies.
func WithPlainText() Option {
	return func(s *Server) { s.plainText = true }
}

func WithMarkupOptions(opts ...markup.Option) Option {
	return func(s *Server) { s.markupOptions = append(s.markupOptions, opts...) }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		replies:       DefaultReplies,
		farewellReply: "Goodbye, thank you for calling!",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"Hello": "World"})
	})
	mux.HandleFunc("GET /completion", s.handleCompletion)
	mux.HandleFunc("POST /completion", s.handleCompletion)
	return mux
}

// RequestsServed is the number of completions replied to so far.
func (s *Server) RequestsServed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestsServed
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	request := dialogue.TurnRequest{ConversationID: r.URL.Query().Get("conversation_id")}
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid turn request: " + err.Error()})
			return
		}
	}
	if request.ConversationID == "" {
		request.ConversationID = DefaultConversationID
	}

	writeJSON(w, http.StatusOK, s.reply(request))
}

func (s *Server) reply(request dialogue.TurnRequest) dialogue.TurnResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsServed++

	text := s.replies[s.rng.IntN(len(s.replies))]
	endConversation := isFarewell(request.UserInput)
	if endConversation {
		text = s.farewellReply
	}
	if !s.plainText {
		text = markup.Wrap(text, s.markupOptions...)
	}

	return dialogue.TurnResponse{
		BotResponse:     text,
		EndConversation: endConversation,
		ConversationID:  request.ConversationID,
	}
}

func isFarewell(input string) bool {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(input), ".!?"))
	for _, farewell := range farewells {
		if normalized == farewell {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
