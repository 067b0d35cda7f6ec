package orchestration

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jinzhu/copier"
)

// AgentConfig configures an Agent. It is copied on construction, changes made
// afterwards have no effect on the agent.
type AgentConfig struct {
	// BaseURL of the dialogue backend. Required unless a dialogue client is
	// passed with WithDialogueClient.
	BaseURL string
	// SendRawMarkup emits complete replies as markup messages instead of
	// plain messages.
	SendRawMarkup bool
	// AllowedIdleTime after which WatchIdle terminates the conversation, zero
	// disables the idle timeout.
	AllowedIdleTime time.Duration
	// GoodbyePhrases end the conversation when the reply contains one of them
	// as whole words, regardless of the backend's end_conversation flag.
	GoodbyePhrases []string
	// InitialMessage is spoken when the conversation starts, nil for none.
	InitialMessage *InitialMessage
	// RequestTimeout bounds a single backend request, zero uses the client
	// default.
	RequestTimeout time.Duration
	// Segmentation decides how replies are split for streaming synthesizers.
	Segmentation SegmentationPolicy
}

type InitialMessage struct {
	Markup string
	Text   string
}

// Validate checks the config. An empty BaseURL is accepted here since a
// dialogue client may be injected, NewAgent rejects it otherwise.
func (c AgentConfig) Validate() error {
	if c.BaseURL != "" {
		parsed, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("base url %q is not absolute", c.BaseURL)
		}
	}
	if c.AllowedIdleTime < 0 {
		return fmt.Errorf("allowed idle time must not be negative, got %s", c.AllowedIdleTime)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	switch c.Segmentation {
	case "", SegmentSentences, SegmentTokens:
	default:
		return fmt.Errorf("unknown segmentation policy %q", c.Segmentation)
	}
	if c.InitialMessage != nil && c.InitialMessage.Markup == "" && c.InitialMessage.Text == "" {
		return fmt.Errorf("initial message must have markup or text")
	}
	for i, phrase := range c.GoodbyePhrases {
		if len(words(phrase)) == 0 {
			return fmt.Errorf("goodbye phrase %d has no words", i)
		}
	}

	return nil
}

// Clone returns a deep copy of the config.
func (c AgentConfig) Clone() (AgentConfig, error) {
	var clone AgentConfig
	if err := copier.CopyWithOption(&clone, &c, copier.Option{DeepCopy: true}); err != nil {
		return AgentConfig{}, fmt.Errorf("failed to copy agent config: %w", err)
	}
	return clone, nil
}
