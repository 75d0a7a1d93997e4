package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/matchlink/internal/api"
	"github.com/Tyrowin/matchlink/internal/model"
	"github.com/Tyrowin/matchlink/internal/realtime"
)

// MessageAPI is the part of the REST client a session uses.
type MessageAPI interface {
	ConnectionMessages(ctx context.Context, connectionID string, limit, offset int) (api.MessagePage, error)
	SendText(ctx context.Context, req api.SendTextRequest) (model.Message, error)
	SendMedia(ctx context.Context, up api.MediaUpload) (model.Message, error)
}

// Cache stores conversation history locally.
type Cache interface {
	SaveMessages(connectionID string, msgs []model.Message) error
	LoadMessages(connectionID string, limit int) ([]model.Message, error)
}

// ErrEmptyMessage is returned when sending blank content.
var ErrEmptyMessage = errors.New("chat: message is empty")

// Merge combines a server page with messages received over the socket.
// Local messages whose ID is already in server are dropped and the result
// is sorted by creation time, keeping input order for equal times.
func Merge(server, local []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(server))
	out := make([]model.Message, 0, len(server)+len(local))
	for _, m := range server {
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range local {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SessionConfig identifies a conversation and its timings.
type SessionConfig struct {
	ConnectionID string
	UserID       string
	PeerID       string
	PageSize     int
	RefreshDelay time.Duration
}

// Session is the message state of one open conversation.
type Session struct {
	cfg    SessionConfig
	api    MessageAPI
	cache  Cache
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	server       []model.Message
	local        []model.Message
	loaded       bool
	generation   uint64
	observers    []func([]model.Message)
	refreshTimer *time.Timer
	closed       bool
	wg           sync.WaitGroup
}

// NewSession creates the state for one conversation. cache may be nil.
func NewSession(cfg SessionConfig, client MessageAPI, cache Cache) *Session {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		api:    client,
		cache:  cache,
		logger: log.With().Str("component", "chat").Str("connection_id", cfg.ConnectionID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ConnectionID returns the conversation this session tracks.
func (s *Session) ConnectionID() string {
	return s.cfg.ConnectionID
}

// Messages returns the merged view.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Merge(s.server, s.local)
}

// OnChange registers fn to receive the merged view after every change.
func (s *Session) OnChange(fn func([]model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers[:len(s.observers):len(s.observers)], fn)
}

func (s *Session) publishLocked() func() {
	view := Merge(s.server, s.local)
	observers := s.observers
	return func() {
		for _, fn := range observers {
			fn(view)
		}
	}
}

// Refresh fetches the first page and replaces the server messages. A
// refresh overtaken by a local mutation is discarded. If the fetch fails
// before any page was loaded the cached history is shown instead.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	page, err := s.api.ConnectionMessages(ctx, s.cfg.ConnectionID, s.cfg.PageSize, 0)
	if err != nil {
		s.fallbackToCache()
		return fmt.Errorf("refresh %s: %w", s.cfg.ConnectionID, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug().Msg("discarding refresh overtaken by local change")
		return nil
	}
	s.server = append([]model.Message(nil), page.Messages...)
	s.loaded = true
	s.local = pruneKnown(s.local, s.server)
	publish := s.publishLocked()
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SaveMessages(s.cfg.ConnectionID, page.Messages); err != nil {
			s.logger.Warn().Err(err).Msg("cache messages")
		}
	}
	publish()
	return nil
}

func (s *Session) fallbackToCache() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	loaded := s.loaded || len(s.server) > 0
	s.mu.Unlock()
	if loaded {
		return
	}

	cached, err := s.cache.LoadMessages(s.cfg.ConnectionID, s.cfg.PageSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load cached messages")
		return
	}
	if len(cached) == 0 {
		return
	}

	s.mu.Lock()
	if s.loaded || len(s.server) > 0 {
		s.mu.Unlock()
		return
	}
	s.server = cached
	publish := s.publishLocked()
	s.mu.Unlock()

	s.logger.Info().Int("messages", len(cached)).Msg("showing cached history")
	publish()
}

func pruneKnown(local, server []model.Message) []model.Message {
	if len(local) == 0 {
		return local
	}
	known := make(map[string]struct{}, len(server))
	for _, m := range server {
		known[m.ID] = struct{}{}
	}
	kept := local[:0:0]
	for _, m := range local {
		if _, ok := known[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	return kept
}

func (s *Session) hasLocked(id string) bool {
	for _, m := range s.server {
		if m.ID == id {
			return true
		}
	}
	for _, m := range s.local {
		if m.ID == id {
			return true
		}
	}
	return false
}

// HandleNew adds a realtime message for this conversation and schedules a
// refresh. Duplicates and other conversations are ignored.
func (s *Session) HandleNew(ev realtime.MessageEvent) {
	connID := ev.ConnectionID
	if connID == "" {
		connID = ev.Message.ConnectionID
	}
	if connID != s.cfg.ConnectionID || ev.Message.ID == "" {
		return
	}

	s.mu.Lock()
	if s.hasLocked(ev.Message.ID) {
		s.mu.Unlock()
		s.logger.Debug().Str("message_id", ev.Message.ID).Msg("duplicate message ignored")
		return
	}
	msg := ev.Message
	if msg.ConnectionID == "" {
		msg.ConnectionID = connID
	}
	s.local = append(s.local, msg)
	publish := s.publishLocked()
	s.mu.Unlock()

	publish()
	s.scheduleRefresh(0)
}

// HandleRead applies a read receipt from the other party to own messages.
func (s *Session) HandleRead(ev realtime.MessageReadEvent) {
	if ev.ConnectionID != s.cfg.ConnectionID || ev.ReadBy == s.cfg.UserID {
		return
	}
	readAt := ev.ReadAt
	if readAt.IsZero() {
		readAt = time.Now().UTC()
	}

	s.mu.Lock()
	changed := s.markReadLocked(s.server, ev.MessageID, readAt)
	changed = s.markReadLocked(s.local, ev.MessageID, readAt) || changed
	if !changed {
		s.mu.Unlock()
		return
	}
	publish := s.publishLocked()
	s.mu.Unlock()
	publish()
}

func (s *Session) markReadLocked(msgs []model.Message, messageID string, readAt time.Time) bool {
	changed := false
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID != s.cfg.UserID || m.IsRead {
			continue
		}
		if messageID != "" && m.ID != messageID {
			continue
		}
		at := readAt
		m.IsRead = true
		m.ReadAt = &at
		changed = true
	}
	return changed
}

// MarkReadWith wraps mark for this conversation. A successful mark flags the
// other party's messages read right away and refetches the page.
func (s *Session) MarkReadWith(mark MarkFunc) MarkFunc {
	return func(ctx context.Context, connectionID string) error {
		if err := mark(ctx, connectionID); err != nil {
			return err
		}
		if connectionID == s.cfg.ConnectionID {
			s.markPeerRead(time.Now().UTC())
			s.scheduleRefresh(s.cfg.RefreshDelay)
		}
		return nil
	}
}

// markPeerRead discards refreshes started before the mark.
func (s *Session) markPeerRead(readAt time.Time) {
	s.mu.Lock()
	changed := false
	for _, msgs := range [][]model.Message{s.server, s.local} {
		for i := range msgs {
			m := &msgs[i]
			if m.SenderID == s.cfg.UserID || m.IsRead {
				continue
			}
			at := readAt
			m.IsRead = true
			m.ReadAt = &at
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.generation++
	publish := s.publishLocked()
	s.mu.Unlock()
	publish()
}

// mutate inserts an optimistic message and returns the rollback snapshot.
func (s *Session) mutate(temp model.Message) []model.Message {
	s.mu.Lock()
	s.generation++
	snapshot := append([]model.Message(nil), s.server...)
	s.server = append(s.server, temp)
	publish := s.publishLocked()
	s.mu.Unlock()
	publish()
	return snapshot
}

func (s *Session) rollback(snapshot []model.Message) {
	s.mu.Lock()
	s.generation++
	s.server = snapshot
	publish := s.publishLocked()
	s.mu.Unlock()
	publish()
}

// confirm replaces the optimistic message with the stored one.
func (s *Session) confirm(tempID string, stored model.Message) {
	if stored.ID == "" {
		return
	}
	s.mu.Lock()
	for i := range s.server {
		if s.server[i].ID == tempID {
			s.server[i] = stored
			break
		}
	}
	publish := s.publishLocked()
	s.mu.Unlock()
	publish()
}

func (s *Session) tempMessage(kind model.MessageType, content string) model.Message {
	now := time.Now()
	m := model.Message{
		ID:           model.TempIDPrefix + strconv.FormatInt(now.UnixMilli(), 10),
		ConnectionID: s.cfg.ConnectionID,
		SenderID:     s.cfg.UserID,
		ReceiverID:   s.cfg.PeerID,
		Type:         kind,
		CreatedAt:    now.UTC(),
		Sending:      true,
	}
	if content != "" {
		m.Content = &content
	}
	return m
}

// SendText shows the message immediately, posts it, and rolls back if the
// post fails.
func (s *Session) SendText(ctx context.Context, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}

	temp := s.tempMessage(model.MessageText, content)
	snapshot := s.mutate(temp)

	stored, err := s.api.SendText(ctx, api.SendTextRequest{
		ConnectionID: s.cfg.ConnectionID,
		Content:      content,
		SenderID:     s.cfg.UserID,
		ReceiverID:   s.cfg.PeerID,
	})
	if err != nil {
		s.rollback(snapshot)
		s.logger.Warn().Err(err).Msg("send text failed, rolled back")
		return model.Message{}, err
	}

	s.confirm(temp.ID, stored)
	s.scheduleRefresh(s.cfg.RefreshDelay)
	return stored, nil
}

// SendMedia uploads a file with optional text using the same optimistic
// flow as SendText.
func (s *Session) SendMedia(ctx context.Context, up api.MediaUpload) (model.Message, error) {
	if up.Body == nil || up.Filename == "" {
		return model.Message{}, ErrEmptyMessage
	}
	up.ConnectionID = s.cfg.ConnectionID

	kind := model.MessageMedia
	if strings.TrimSpace(up.Text) != "" {
		kind = model.MessageMixed
	}
	temp := s.tempMessage(kind, strings.TrimSpace(up.Text))
	snapshot := s.mutate(temp)

	stored, err := s.api.SendMedia(ctx, up)
	if err != nil {
		s.rollback(snapshot)
		s.logger.Warn().Err(err).Str("file", up.Filename).Msg("send media failed, rolled back")
		return model.Message{}, err
	}

	s.confirm(temp.ID, stored)
	s.scheduleRefresh(s.cfg.RefreshDelay)
	return stored, nil
}

// scheduleRefresh runs Refresh in the background after delay. A pending
// refresh is pushed back.
func (s *Session) scheduleRefresh(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = time.AfterFunc(delay, s.backgroundRefresh)
}

func (s *Session) backgroundRefresh() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := s.Refresh(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("background refresh")
	}
}

// Bind registers the chat socket listeners. The returned func removes them.
func (s *Session) Bind(sock *realtime.Socket) (unbind func()) {
	d := sock.Dispatcher()
	newID := realtime.Subscribe(d, realtime.EventMessageNew, s.HandleNew)
	readID := realtime.Subscribe(d, realtime.EventMessageRead, s.HandleRead)
	return func() {
		sock.Off(realtime.EventMessageNew, newID)
		sock.Off(realtime.EventMessageRead, readID)
	}
}

// Close stops background refreshes and waits for a running one to end.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
