package main

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-onsai/core"
	"github.com/koscakluka/ema-onsai/core/conversations"
	"github.com/koscakluka/ema-onsai/core/dialogue"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/koscakluka/ema-onsai/core/sinks"
	"github.com/koscakluka/ema-onsai/core/telephony/twilio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	frameUtterance = "utterance"
	frameHangup    = "hangup"

	kindTurnFailed = "turn_state.failed"

	writeTimeout       = 10 * time.Second
	utteranceQueueSize = 16
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversations over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, s)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "Address to listen on")
	flags.String("events-topic", "onsai.events", "Topic emitted events are mirrored to")
	flags.String("amqp-url", "", "Mirror emitted events to this AMQP broker")
	flags.String("amqp-exchange", "onsai.events", "AMQP exchange emitted events are published to")
	flags.String("twilio-account-sid", "", "Twilio account used to resolve and hang up calls")
	flags.String("twilio-auth-token", "", "Twilio auth token")
	flags.String("twilio-base-url", "", "Override the Twilio API base URL")

	return cmd
}

func runServer(ctx context.Context, s settings) error {
	srv, err := newServer(s)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:        s.Addr,
		Handler:     srv.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	eg, ctx := errgroup.WithContext(ctx)
	messages, err := srv.pubSub.Subscribe(ctx, srv.settings.EventsTopic)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to events")
	}
	eg.Go(func() error {
		logEvents(messages)
		return nil
	})
	eg.Go(func() error {
		log.Info().Str("addr", s.Addr).Str("backend", s.BackendURL).Msg("Serving conversations")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func logEvents(messages <-chan *message.Message) {
	for msg := range messages {
		log.Debug().
			Str("conversation_id", msg.Metadata.Get(sinks.MetadataConversationID)).
			Str("kind", msg.Metadata.Get(sinks.MetadataKind)).
			RawJSON("event", msg.Payload).
			Msg("Event emitted")
		msg.Ack()
	}
}

type server struct {
	settings settings
	client   *dialogue.Client
	twilio   *twilio.Client
	pubSub   *gochannel.GoChannel
	sinks    sinks.Multi
	closers  []func() error
	upgrader websocket.Upgrader
}

func newServer(s settings) (*server, error) {
	var clientOpts []dialogue.ClientOption
	if s.RequestTimeout > 0 {
		clientOpts = append(clientOpts, dialogue.WithTimeout(s.RequestTimeout))
	}
	client, err := dialogue.NewClient(s.BackendURL, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create dialogue client")
	}
	if err := s.agentConfig().Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid agent configuration")
	}

	if s.EventsTopic == "" {
		s.EventsTopic = "onsai.events"
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)

	srv := &server{
		settings: s,
		client:   client,
		pubSub:   pubSub,
		sinks:    sinks.Multi{sinks.NewWatermillSink(pubSub, s.EventsTopic)},
		closers:  []func() error{pubSub.Close},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if s.AMQPURL != "" {
		exchange := s.AMQPExchange
		if exchange == "" {
			exchange = "onsai.events"
		}
		amqpSink, err := sinks.NewAMQPSink(s.AMQPURL, exchange, "onsai-agent")
		if err != nil {
			srv.Close()
			return nil, errors.Wrap(err, "could not connect to AMQP broker")
		}
		srv.sinks = append(srv.sinks, amqpSink)
		srv.closers = append(srv.closers, amqpSink.Close)
	}

	if s.TwilioAccountSID != "" {
		twilioClient, err := twilio.NewClient(twilio.Config{
			AccountSID: s.TwilioAccountSID,
			AuthToken:  s.TwilioAuthToken,
			BaseURL:    s.TwilioBaseURL,
		})
		if err != nil {
			srv.Close()
			return nil, errors.Wrap(err, "could not create Twilio client")
		}
		srv.twilio = twilioClient
	}

	return srv, nil
}

func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", s.handleConversation)
	return mux
}

func (s *server) Close() {
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			log.Warn().Err(err).Msg("Failed to close server resource")
		}
	}
	s.client.CloseIdleConnections()
}

func (s *server) handleConversation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	conversationID := query.Get("conversation_id")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	logger := log.With().Str("conversation_id", conversationID).Logger()

	state, err := s.conversationState(r.Context(), query)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not resolve conversation state")
		http.Error(w, "could not resolve call", http.StatusBadGateway)
		return
	}

	agent, err := orchestration.NewAgent(s.settings.agentConfig(),
		orchestration.WithDialogueClient(s.client),
		orchestration.WithConversationState(state),
		orchestration.WithEventSink(s.sinks),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Could not create agent")
		http.Error(w, "could not create agent", http.StatusInternalServerError)
		return
	}
	defer agent.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger.Info().Msg("Conversation started")
	c := &conversation{id: conversationID, agent: agent, conn: conn, logger: logger}
	if err := c.run(r.Context()); err != nil {
		logger.Warn().Err(err).Msg("Conversation ended with error")
		return
	}
	logger.Info().Msg("Conversation ended")
}

func (s *server) conversationState(ctx context.Context, query url.Values) (conversations.StateV0, error) {
	callSID := query.Get("call_sid")
	if callSID == "" || s.twilio == nil {
		return conversations.NewLocalState(s.settings.Streaming), nil
	}

	opts := []twilio.CallStateOption{twilio.WithStreamingSynthesizer(s.settings.Streaming)}
	if to := query.Get("to"); to != "" {
		opts = append(opts, twilio.WithDestination(to), twilio.WithCaller(query.Get("from")))
		return twilio.NewCallState(s.twilio, callSID, opts...)
	}
	return twilio.LookupCallState(ctx, s.twilio, callSID, opts...)
}

type clientFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Interrupt bool   `json:"interrupt"`
}

type failureFrame struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error"`
}

// conversation relays one websocket connection to an agent.
type conversation struct {
	id     string
	agent  *orchestration.Agent
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
}

func (c *conversation) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	utterances := make(chan clientFrame, utteranceQueueSize)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		// returns once the agent is closed, so the conversation is over
		watchIdle(ctx, c.agent, c.logger)
		cancel()
		return nil
	})
	eg.Go(func() error {
		// unblocks the read loop
		<-ctx.Done()
		_ = c.conn.Close()
		return nil
	})
	eg.Go(func() error {
		c.sendInitialMessage(ctx)
		return nil
	})
	eg.Go(func() error {
		return c.turnLoop(ctx, utterances, cancel)
	})
	eg.Go(func() error {
		defer cancel()
		return c.readLoop(ctx, utterances)
	})

	return eg.Wait()
}

func (c *conversation) readLoop(ctx context.Context, utterances chan<- clientFrame) error {
	for {
		var frame clientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "could not read frame")
		}

		switch frame.Type {
		case frameUtterance:
			if frame.Interrupt {
				// the turn in flight must not hold up the queue
				c.agent.CancelTurn()
			}
			select {
			case utterances <- frame:
			case <-ctx.Done():
				return nil
			}
		case frameHangup:
			if err := c.agent.Terminate(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to terminate conversation")
			}
			return nil
		default:
			c.logger.Warn().Str("type", frame.Type).Msg("Ignoring unknown frame")
		}
	}
}

// turnLoop answers utterances one at a time in the order they were received.
func (c *conversation) turnLoop(ctx context.Context, utterances <-chan clientFrame, cancel context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-utterances:
			if c.runTurn(ctx, frame.Text, frame.Interrupt) {
				cancel()
				return nil
			}
		}
	}
}

// runTurn relays a single turn and reports whether it ended the
// conversation.
func (c *conversation) runTurn(ctx context.Context, text string, interrupt bool) bool {
	ended := false
	turn := c.agent.GenerateResponse(ctx, text, c.id, orchestration.WithInterruptFlag(interrupt))
	for event, err := range turn {
		if err != nil {
			if errors.Is(err, orchestration.ErrTurnCancelled) || errors.Is(err, orchestration.ErrAgentClosed) {
				c.logger.Debug().Err(err).Msg("Turn cancelled")
				return false
			}
			c.logger.Warn().Err(err).Msg("Turn failed")
			if err := c.send(failureFrame{Kind: kindTurnFailed, ConversationID: c.id, Error: err.Error()}); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send turn failure")
			}
			return false
		}

		if _, ok := event.(events.EndOfTurnSignal); ok {
			ended = true
		}
		if err := c.send(events.ToWire(c.id, event)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send event")
			return false
		}
	}
	return ended
}

func (c *conversation) sendInitialMessage(ctx context.Context) {
	for event, err := range c.agent.InitialMessage(ctx, c.id) {
		if err != nil {
			return
		}
		if err := c.send(events.ToWire(c.id, event)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send initial message")
			return
		}
	}
}

func (c *conversation) send(frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}
