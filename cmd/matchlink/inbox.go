package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/matchlink/internal/api"
	"github.com/Tyrowin/matchlink/internal/realtime"
)

var flagPresenceWait time.Duration

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations with unread counts and presence",
	RunE:  runInbox,
}

func init() {
	inboxCmd.Flags().DurationVar(&flagPresenceWait, "presence-wait", time.Second, "how long to wait for the presence snapshot (0 skips presence)")
}

func runInbox(cmd *cobra.Command, _ []string) error {
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	list, err := newClient().ChatList(ctx)
	if err != nil {
		return fmt.Errorf("chat list: %w", err)
	}

	var presence *realtime.Presence
	if flagPresenceWait > 0 {
		presence = loadPresence(ctx, flagPresenceWait)
	}
	return printInbox(cmd.OutOrStdout(), list, presence)
}

// loadPresence opens the status socket and waits for the initial snapshot.
// It returns nil when no snapshot arrives in time.
func loadPresence(ctx context.Context, wait time.Duration) *realtime.Presence {
	mux := realtime.NewMux(cfg.Realtime, cfg.Token)
	defer mux.Close()

	sock, err := mux.StatusSocket()
	if err != nil {
		log.Warn().Err(err).Msg("status socket unavailable")
		return nil
	}

	presence := realtime.NewPresence()
	presence.Bind(sock)
	got := make(chan struct{}, 1)
	sock.On(realtime.EventUserStatusInitial, func(realtime.Envelope) {
		select {
		case got <- struct{}{}:
		default:
		}
	})

	if _, err := mux.Status(ctx); err != nil {
		log.Warn().Err(err).Msg("status socket unavailable")
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-got:
		return presence
	case <-timer.C:
		log.Debug().Dur("wait", wait).Msg("no presence snapshot")
	case <-ctx.Done():
	}
	return nil
}

func printInbox(out io.Writer, list api.ChatList, presence *realtime.Presence) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONNECTION\tNAME\tSTATUS\tUNREAD\tLAST MESSAGE")
	for _, item := range list.Chats {
		status := "-"
		if presence != nil && item.OtherUser != nil {
			status = string(presence.Status(item.OtherUser.ID))
		}
		last := ""
		if item.LastMessage != nil {
			last = preview(item.LastMessage.Text(), 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			item.ConnectionID, item.OtherUser.DisplayName("unknown"), status, item.UnreadCount, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d chats, %d unread\n", list.TotalChats, list.UnreadTotal)
	return err
}

// preview returns the first line of text cut to n runes.
func preview(text string, n int) string {
	text, _, _ = strings.Cut(text, "\n")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n-1]) + "…"
}
