// Command onsai-agent runs the turn-response agent against a dialogue backend.
package main

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "onsai-agent",
	Short: "onsai-agent answers conversation turns using a remote dialogue backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return errors.Wrap(err, "could not bind flags")
		}
		return initLogger()
	},
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(func() {
		cobra.CheckErr(initConfig(viper.GetString("config")))
	})

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.Bool("with-caller", false, "Log caller information")
	addAgentFlags(flags)
	cobra.CheckErr(viper.BindPFlags(flags))

	rootCmd.AddCommand(
		newServeCommand(),
		newFakeBackendCommand(),
		newChatCommand(),
		newConfigCommand(),
	)

	cobra.CheckErr(rootCmd.Execute())
}

func initConfig(configPath string) error {
	viper.SetEnvPrefix("onsai")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("onsai-agent")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(configDir + "/onsai-agent")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "could not read config file")
	}
	return nil
}

func initLogger() error {
	if viper.GetBool("with-caller") {
		log.Logger = log.With().Caller().Logger()
	}

	var logWriter io.Writer = os.Stderr
	if viper.GetString("log-format") == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", viper.GetString("log-level"))
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")
	return nil
}
