// Command relay runs the development realtime server.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/matchlink/internal/relay"
)

var rootCmd = &cobra.Command{
	Use:          "relay",
	Short:        "Development relay for the status, chat and typing channels",
	SilenceUsage: true,
	RunE:         runRelay,
}

var (
	flagPort            string
	flagOrigins         []string
	flagTokens          string
	flagShutdownTimeout time.Duration
	flagLogLevel        string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagPort, "port", "", "listen address (env SERVER_PORT)")
	flags.StringSliceVar(&flagOrigins, "origins", nil, "allowed origins, * for any (env ALLOWED_ORIGINS)")
	flags.StringVar(&flagTokens, "tokens", "", "token:user pairs, comma-separated (env RELAY_TOKENS)")
	flags.DurationVar(&flagShutdownTimeout, "shutdown-timeout", 0, "grace period for open sockets on shutdown")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("relay")
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := relay.ConfigFromEnv(os.LookupEnv)
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("origins") {
		cfg.AllowedOrigins = flagOrigins
	}
	if flags.Changed("tokens") {
		cfg.Tokens = relay.ParseTokens(flagTokens)
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = flagShutdownTimeout
	}
	cfg = cfg.Sanitize()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.New(cfg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return shutdownResult(srv.Shutdown(sctx))
}

// shutdownResult treats a grace period that ran out as a forced but clean
// stop, since the hubs have closed every socket by then.
func shutdownResult(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Warn().Err(err).Msg("shutdown grace period ended before client pumps exited")
		return nil
	default:
		return err
	}
}
