// Command matchlink is a terminal client for the messaging and presence
// features: it logs in, lists conversations and opens a live chat.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/matchlink/internal/api"
	"github.com/Tyrowin/matchlink/internal/config"
)

var rootCmd = &cobra.Command{
	Use:               "matchlink",
	Short:             "Chat and presence client",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	flagConfig   string
	flagBaseURL  string
	flagToken    string
	flagLogLevel string
	flagDataPath string
)

// cfg is resolved once per invocation by setup.
var cfg config.Config

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", os.Getenv("MATCHLINK_CONFIG"), "optional YAML config file (env MATCHLINK_CONFIG)")
	flags.StringVar(&flagBaseURL, "base-url", "", "API base URL")
	flags.StringVar(&flagToken, "token", "", "auth token")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&flagDataPath, "data-path", "", "directory for the local message cache (empty disables it)")

	rootCmd.AddCommand(loginCmd, inboxCmd, chatCmd, presenceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup layers defaults, the config file, the environment and changed flags.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		loaded.BaseURL = flagBaseURL
	}
	if flags.Changed("token") {
		loaded.Token = flagToken
	}
	if flags.Changed("log-level") {
		loaded.LogLevel = flagLogLevel
	}
	if flags.Changed("data-path") {
		loaded.DataPath = flagDataPath
	}
	cfg = loaded.Sanitize()

	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

func newClient() *api.Client {
	return api.NewClient(cfg.BaseURL, cfg.Token, api.WithUnauthorizedHandler(func() {
		log.Warn().Msg("token rejected; run login again")
	}))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
