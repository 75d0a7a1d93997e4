package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/matchlink/internal/chat"
	"github.com/Tyrowin/matchlink/internal/model"
	"github.com/Tyrowin/matchlink/internal/realtime"
	"github.com/Tyrowin/matchlink/internal/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat <connection-id>",
	Short: "Open a live conversation; lines from stdin are sent, /quit exits",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	connectionID := args[0]
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	client := newClient()
	me, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}
	list, err := client.ChatList(ctx)
	if err != nil {
		return fmt.Errorf("chat list: %w", err)
	}
	item, ok := findChat(list.Chats, connectionID)
	if !ok {
		return fmt.Errorf("no conversation %q", connectionID)
	}
	peerName := item.OtherUser.DisplayName("them")

	cache, err := store.Open(cfg.DataPath)
	if err != nil {
		return err
	}
	defer cache.Close()

	session := chat.NewSession(chat.SessionConfig{
		ConnectionID: connectionID,
		UserID:       me.ID,
		PeerID:       item.OtherUser.ID,
		PageSize:     cfg.Chat.PageSize,
		RefreshDelay: cfg.Chat.RefreshDelay,
	}, client, cache)
	defer session.Close()

	out := &transcript{w: cmd.OutOrStdout(), userID: me.ID, peer: peerName, seen: make(map[string]struct{})}
	markRead := session.MarkReadWith(client.MarkRead)
	reader := chat.NewAutoReader(connectionID, me.ID, cfg.Chat.AutoReadDelay, markRead)
	defer reader.Stop()
	session.OnChange(out.show)
	session.OnChange(reader.Observe)

	mux := realtime.NewMux(cfg.Realtime, cfg.Token)
	defer mux.Close()

	chatSock, err := mux.Chat(ctx, connectionID)
	if err != nil {
		return err
	}
	unbind := session.Bind(chatSock)
	defer unbind()

	typingSock, err := mux.Typing(ctx, connectionID)
	if err != nil {
		return err
	}
	peer := chat.NewPeerTyping(connectionID, me.ID, cfg.Chat.PeerTypingTimeout)
	defer peer.Stop()
	unbindPeer := peer.Bind(typingSock)
	defer unbindPeer()
	peer.OnChange(out.typing)

	emitter := chat.NewEmitter(typingSock, connectionID, me.ID, cfg.Chat.TypingBackup)
	defer emitter.Stop()
	keys := chat.NewKeystrokes(cfg.Chat.TypingIdle, func(isTyping bool) {
		if err := emitter.Emit(isTyping); err != nil {
			log.Debug().Err(err).Bool("typing", isTyping).Msg("typing indicator not sent")
		}
	})
	defer keys.Stop()

	if err := session.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load messages; showing cached history")
	}
	if _, err := chat.NewOpenMarker(markRead).Opened(ctx, item); err != nil {
		log.Warn().Err(err).Msg("mark read on open")
	}
	reader.SetActive(true)

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "/quit" {
				return nil
			}
			if line == "" {
				continue
			}
			keys.Input(line)
			if _, err := session.SendText(ctx, line); err != nil {
				log.Error().Err(err).Msg("send failed")
			}
			keys.Sent()
		}
	}
}

func findChat(chats []model.ChatListItem, connectionID string) (model.ChatListItem, bool) {
	for _, item := range chats {
		if item.ConnectionID == connectionID {
			return item, true
		}
	}
	return model.ChatListItem{}, false
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			log.Debug().Err(err).Msg("stdin")
		}
	}()
	return lines
}

// transcript prints each confirmed message once.
type transcript struct {
	w      io.Writer
	userID string
	peer   string

	mu   sync.Mutex
	seen map[string]struct{}
}

func (t *transcript) show(msgs []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if m.IsTemp() {
			continue
		}
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		fmt.Fprintf(t.w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), t.author(m), body(m))
	}
}

func (t *transcript) author(m model.Message) string {
	if m.SenderID == t.userID {
		return "you"
	}
	return t.peer
}

func (t *transcript) typing(isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isTyping {
		fmt.Fprintf(t.w, "%s is typing...\n", t.peer)
	}
}

func body(m model.Message) string {
	text := m.Text()
	if m.MediaURL != nil {
		if text != "" {
			text += " "
		}
		text += "<" + *m.MediaURL + ">"
	}
	return text
}
