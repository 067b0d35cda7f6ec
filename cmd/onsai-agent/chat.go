package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	orchestration "github.com/koscakluka/ema-onsai/core"
	"github.com/koscakluka/ema-onsai/core/conversations"
	"github.com/koscakluka/ema-onsai/core/events"
	"github.com/muesli/reflow/wordwrap"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type idleWatcher interface {
	WatchIdle(ctx context.Context) error
}

// watchIdle runs the agent's idle watchdog until it returns.
func watchIdle(ctx context.Context, agent idleWatcher, logger zerolog.Logger) {
	if err := agent.WatchIdle(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to terminate idle conversation")
	}
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the dialogue backend from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}

			state := conversations.NewLocalState(s.Streaming)
			agent, err := orchestration.NewAgent(s.agentConfig(), orchestration.WithConversationState(state))
			if err != nil {
				return errors.Wrap(err, "could not create agent")
			}
			defer agent.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go watchIdle(ctx, agent, log.Logger)

			p := tea.NewProgram(newChatModel(ctx, agent, state, uuid.NewString()))
			_, err = p.Run()
			return err
		},
	}
}

type chatKeyMap struct {
	Submit    key.Binding
	Interrupt key.Binding
	Quit      key.Binding
}

var defaultChatKeyMap = chatKeyMap{
	Submit:    key.NewBinding(key.WithKeys("enter")),
	Interrupt: key.NewBinding(key.WithKeys("ctrl+r")),
	Quit:      key.NewBinding(key.WithKeys("ctrl+c", "esc")),
}

type chatStyle struct {
	User   lipgloss.Style
	Agent  lipgloss.Style
	Status lipgloss.Style
	Error  lipgloss.Style
}

func defaultChatStyle() chatStyle {
	return chatStyle{
		User:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#5FAFFF"}),
		Agent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#AF005F", Dark: "#DD7090"}),
		Status: lipgloss.NewStyle().Faint(true).Italic(true),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D70000")),
	}
}

type chatLine struct {
	speaker string
	text    string
}

// turnMsg carries one event of a turn, or its end.
type turnMsg struct {
	turn  int
	event events.OutboundEvent
	err   error
	done  bool
}

type conversationEndedMsg struct{}

type initialMessageMsg struct{}

type chatModel struct {
	ctx            context.Context
	agent          *orchestration.Agent
	state          *conversations.LocalState
	conversationID string

	input   textinput.Model
	lines   []chatLine
	pending    <-chan turnMsg
	cancelTurn context.CancelFunc
	turn       int
	busy    bool
	ended   bool
	err     error

	keyMap chatKeyMap
	style  chatStyle
	width  int
}

func newChatModel(ctx context.Context, agent *orchestration.Agent, state *conversations.LocalState, conversationID string) chatModel {
	input := textinput.New()
	input.Placeholder = "Say something..."
	input.Prompt = "> "
	input.Focus()

	return chatModel{
		ctx:            ctx,
		agent:          agent,
		state:          state,
		conversationID: conversationID,
		input:          input,
		keyMap:         defaultChatKeyMap,
		style:          defaultChatStyle(),
		width:          80,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForEnd(), func() tea.Msg { return initialMessageMsg{} })
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keyMap.Submit), key.Matches(msg, m.keyMap.Interrupt):
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.ended {
				return m, nil
			}
			interrupt := key.Matches(msg, m.keyMap.Interrupt)
			if m.busy && !interrupt {
				return m, nil
			}
			m.input.Reset()
			m.lines = append(m.lines, chatLine{speaker: "you", text: text})
			return m.startTurn(text, interrupt)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - len(m.input.Prompt) - 1

	case turnMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		switch {
		case msg.done:
			m.busy = false
			return m, nil
		case msg.err != nil:
			if !errors.Is(msg.err, orchestration.ErrTurnCancelled) {
				m.err = msg.err
			}
		default:
			m.appendEvent(msg.event)
		}
		return m, m.next()

	case initialMessageMsg:
		return m.stream(func(ctx context.Context) func(func(events.OutboundEvent, error) bool) {
			return m.agent.InitialMessage(ctx, m.conversationID)
		})

	case conversationEndedMsg:
		m.ended = true
		m.input.Blur()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) appendEvent(event events.OutboundEvent) {
	switch event := event.(type) {
	case events.TokenFragment:
		m.agentSays(event.Text)
	case events.MarkupMessage:
		m.agentSays(event.Text)
	case events.PlainMessage:
		m.agentSays(event.Text)
	case events.EndOfTurnSignal:
		m.lines = append(m.lines, chatLine{text: "end of conversation"})
	}
}

// agentSays extends the agent line of the current turn.
func (m *chatModel) agentSays(text string) {
	if last := len(m.lines) - 1; last >= 0 && m.lines[last].speaker == "agent" {
		m.lines[last].text += text
		return
	}
	m.lines = append(m.lines, chatLine{speaker: "agent", text: text})
}

func (m chatModel) startTurn(text string, interrupt bool) (tea.Model, tea.Cmd) {
	return m.stream(func(ctx context.Context) func(func(events.OutboundEvent, error) bool) {
		return m.agent.GenerateResponse(ctx, text, m.conversationID, orchestration.WithInterruptFlag(interrupt))
	})
}

func (m chatModel) stream(start func(ctx context.Context) func(func(events.OutboundEvent, error) bool)) (tea.Model, tea.Cmd) {
	if m.cancelTurn != nil {
		m.cancelTurn()
	}
	ctx, cancel := context.WithCancel(m.ctx)

	m.turn++
	m.busy = true
	m.err = nil
	m.cancelTurn = cancel
	m.pending = streamTurn(ctx, m.turn, start(ctx))
	return m, m.next()
}

func (m chatModel) next() tea.Cmd {
	pending := m.pending
	return func() tea.Msg {
		msg, ok := <-pending
		if !ok {
			return nil
		}
		return msg
	}
}

func (m chatModel) waitForEnd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.state.Done():
			return conversationEndedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// streamTurn drains a turn into a channel so events can be delivered to the
// UI one at a time. It stops once ctx is done.
func streamTurn(ctx context.Context, turn int, seq func(func(events.OutboundEvent, error) bool)) <-chan turnMsg {
	out := make(chan turnMsg)
	go func() {
		defer close(out)
		for event, err := range seq {
			select {
			case out <- turnMsg{turn: turn, event: event, err: err}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- turnMsg{turn: turn, done: true}:
		case <-ctx.Done():
		}
	}()
	return out
}

func (m chatModel) View() string {
	var b strings.Builder
	width := max(m.width-2, 20)

	for _, line := range m.lines {
		switch line.speaker {
		case "you":
			b.WriteString(m.style.User.Render("you: "))
		case "agent":
			b.WriteString(m.style.Agent.Render("agent: "))
		default:
			b.WriteString(m.style.Status.Render(line.text))
			b.WriteString("\n")
			continue
		}
		b.WriteString(wordwrap.String(line.text, width))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(m.style.Error.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}
	if m.busy {
		b.WriteString(m.style.Status.Render("waiting for the backend... (ctrl+r sends as interruption)"))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	return b.String()
}
