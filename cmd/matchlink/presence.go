package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/matchlink/internal/connections"
	"github.com/Tyrowin/matchlink/internal/realtime"
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Stream presence changes and connection notices until interrupted",
	RunE:  runPresence,
}

func runPresence(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	client := newClient()
	me, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}

	tracker := connections.NewTracker(client, me.ID)
	defer tracker.Close()
	if err := tracker.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load connections")
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	out.printf("%d connections, %d pending requests\n", len(tracker.Connections()), len(tracker.Requests()))
	tracker.OnNotice(func(notice string) { out.printf("* %s\n", notice) })

	presence := realtime.NewPresence()
	presence.Watch(func(userID string, s realtime.Status) {
		out.printf("%s is %s\n", userID, s)
	})

	mux := realtime.NewMux(cfg.Realtime, cfg.Token)
	defer mux.Close()

	sock, err := mux.StatusSocket()
	if err != nil {
		return err
	}
	unbindPresence := presence.Bind(sock)
	defer unbindPresence()
	unbindTracker := tracker.Bind(sock)
	defer unbindTracker()
	sock.OnState(func(s realtime.State) {
		log.Debug().Stringer("state", s).Msg("status socket")
	})

	if _, err := mux.Status(ctx); err != nil {
		log.Warn().Err(err).Msg("status socket offline; retrying in the background")
	}
	<-ctx.Done()
	return nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
