package main

import (
	"fmt"
	"time"

	orchestration "github.com/koscakluka/ema-onsai/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// settings are the resolved flags, environment variables and config file
// values shared by all commands.
type settings struct {
	BackendURL      string        `mapstructure:"backend-url" yaml:"backend-url"`
	SendRawMarkup   bool          `mapstructure:"send-raw-markup" yaml:"send-raw-markup"`
	AllowedIdleTime time.Duration `mapstructure:"allowed-idle-time" yaml:"-"`
	RequestTimeout  time.Duration `mapstructure:"request-timeout" yaml:"-"`
	GoodbyePhrases  []string      `mapstructure:"goodbye-phrases" yaml:"goodbye-phrases"`
	Segmentation    string        `mapstructure:"segmentation" yaml:"segmentation"`
	Streaming       bool          `mapstructure:"streaming" yaml:"streaming"`

	InitialMessageMarkup string `mapstructure:"initial-message-markup" yaml:"initial-message-markup,omitempty"`
	InitialMessageText   string `mapstructure:"initial-message-text" yaml:"initial-message-text,omitempty"`

	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`

	AMQPURL      string `mapstructure:"amqp-url" yaml:"amqp-url,omitempty"`
	AMQPExchange string `mapstructure:"amqp-exchange" yaml:"amqp-exchange,omitempty"`
	EventsTopic  string `mapstructure:"events-topic" yaml:"events-topic,omitempty"`

	TwilioAccountSID string `mapstructure:"twilio-account-sid" yaml:"twilio-account-sid,omitempty"`
	TwilioAuthToken  string `mapstructure:"twilio-auth-token" yaml:"-"`
	TwilioBaseURL    string `mapstructure:"twilio-base-url" yaml:"twilio-base-url,omitempty"`
}

func addAgentFlags(flags *pflag.FlagSet) {
	flags.String("backend-url", "http://localhost:8000", "Base URL of the dialogue backend")
	flags.Bool("send-raw-markup", false, "Forward replies as speech markup instead of plain text")
	flags.Duration("allowed-idle-time", 0, "End the conversation after this much time without a turn (0 disables)")
	flags.Duration("request-timeout", 30*time.Second, "Timeout of a single backend request")
	flags.StringSlice("goodbye-phrases", nil, "Phrases in a reply that end the conversation")
	flags.String("segmentation", string(orchestration.SegmentSentences), "How streamed replies are split (sentences, tokens)")
	flags.Bool("streaming", false, "Downstream synthesizer consumes incremental text")
	flags.String("initial-message-markup", "", "Markup of the greeting spoken when a conversation starts")
	flags.String("initial-message-text", "", "Text of the greeting spoken when a conversation starts")
}

func loadSettings(v *viper.Viper) (settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, errors.Wrap(err, "could not decode settings")
	}
	return s, nil
}

func (s settings) agentConfig() orchestration.AgentConfig {
	config := orchestration.AgentConfig{
		BaseURL:         s.BackendURL,
		SendRawMarkup:   s.SendRawMarkup,
		AllowedIdleTime: s.AllowedIdleTime,
		GoodbyePhrases:  s.GoodbyePhrases,
		RequestTimeout:  s.RequestTimeout,
		Segmentation:    orchestration.SegmentationPolicy(s.Segmentation),
	}
	if s.InitialMessageMarkup != "" || s.InitialMessageText != "" {
		config.InitialMessage = &orchestration.InitialMessage{
			Markup: s.InitialMessageMarkup,
			Text:   s.InitialMessageText,
		}
	}
	return config
}

// MarshalYAML prints durations the way they are given on the command line.
func (s settings) MarshalYAML() (any, error) {
	type plain settings
	return struct {
		plain           `yaml:",inline"`
		AllowedIdleTime string `yaml:"allowed-idle-time"`
		RequestTimeout  string `yaml:"request-timeout"`
	}{
		plain:           plain(s),
		AllowedIdleTime: s.AllowedIdleTime.String(),
		RequestTimeout:  s.RequestTimeout.String(),
	}, nil
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}
			if err := s.agentConfig().Validate(); err != nil {
				return errors.Wrap(err, "invalid configuration")
			}

			out, err := yaml.Marshal(s)
			if err != nil {
				return errors.Wrap(err, "could not encode settings")
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
