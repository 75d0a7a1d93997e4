package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/matchlink/internal/model"
)

// MarkFunc marks every message of a conversation read.
type MarkFunc func(ctx context.Context, connectionID string) error

// AutoReader marks a conversation read once new messages from the other
// party have been on screen for Delay. Only an active, visible view marks.
type AutoReader struct {
	connectionID string
	userID       string
	delay        time.Duration
	mark         MarkFunc
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	active        bool
	visible       bool
	messages      []model.Message
	lastProcessed string
	pending       bool
	timer         *time.Timer
	stopped       bool
	wg            sync.WaitGroup
}

// NewAutoReader returns a marker for one conversation as seen by userID. The
// view starts visible and inactive.
func NewAutoReader(connectionID, userID string, delay time.Duration, mark MarkFunc) *AutoReader {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoReader{
		connectionID: connectionID,
		userID:       userID,
		delay:        delay,
		mark:         mark,
		logger:       log.With().Str("component", "autoread").Str("connection_id", connectionID).Logger(),
		ctx:          ctx,
		cancel:       cancel,
		visible:      true,
	}
}

// SetActive reports whether the conversation is the one on screen.
func (a *AutoReader) SetActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = active
	if !active {
		a.stopTimerLocked()
		return
	}
	if a.visible && a.hasUnreadLocked() {
		a.scheduleLocked()
	}
}

// SetVisible reports whether the application window is visible.
func (a *AutoReader) SetVisible(visible bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visible = visible
	if visible && a.active && a.hasUnreadLocked() {
		a.scheduleLocked()
	}
}

// Observe is called with the merged message view after every change.
func (a *AutoReader) Observe(msgs []model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = msgs

	if !a.active || len(msgs) == 0 {
		return
	}

	var latest *model.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID != a.userID {
			latest = &msgs[i]
			break
		}
	}
	if latest == nil {
		return
	}

	if latest.ID != a.lastProcessed && !latest.IsRead && a.visible {
		a.lastProcessed = latest.ID
		a.scheduleLocked()
	}
}

// HasUnread reports whether unread messages from the other party exist.
func (a *AutoReader) HasUnread() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasUnreadLocked()
}

// Pending reports whether a mark request is in flight.
func (a *AutoReader) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Stop cancels the debounce timer and waits for an in-flight mark.
func (a *AutoReader) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.stopTimerLocked()
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
}

func (a *AutoReader) hasUnreadLocked() bool {
	for _, m := range a.messages {
		if !m.IsRead && m.SenderID != a.userID {
			return true
		}
	}
	return false
}

func (a *AutoReader) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// scheduleLocked restarts the debounce timer.
func (a *AutoReader) scheduleLocked() {
	if a.stopped || !a.active || !a.visible {
		return
	}
	a.stopTimerLocked()
	a.timer = time.AfterFunc(a.delay, a.fire)
}

func (a *AutoReader) fire() {
	a.mu.Lock()
	if a.stopped || a.pending || !a.hasUnreadLocked() {
		a.mu.Unlock()
		return
	}
	a.pending = true
	a.timer = nil
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()
	err := a.mark(a.ctx, a.connectionID)

	a.mu.Lock()
	a.pending = false
	a.mu.Unlock()

	if err != nil && a.ctx.Err() == nil {
		a.logger.Warn().Err(err).Msg("mark read failed")
		return
	}
	a.logger.Debug().Msg("marked read")
}

// OpenMarker marks a conversation read once when it is opened with unread
// messages. Closing the conversation allows the next open to mark again.
type OpenMarker struct {
	mark   MarkFunc
	logger zerolog.Logger

	mu     sync.Mutex
	marked map[string]struct{}
}

// NewOpenMarker returns a marker using mark.
func NewOpenMarker(mark MarkFunc) *OpenMarker {
	return &OpenMarker{
		mark:   mark,
		logger: log.With().Str("component", "autoread").Logger(),
		marked: make(map[string]struct{}),
	}
}

// Opened is called when a conversation is shown. It reports whether a mark
// request was made.
func (o *OpenMarker) Opened(ctx context.Context, item model.ChatListItem) (bool, error) {
	if item.ConnectionID == "" || item.UnreadCount <= 0 {
		return false, nil
	}
	o.mu.Lock()
	if _, done := o.marked[item.ConnectionID]; done {
		o.mu.Unlock()
		return false, nil
	}
	o.marked[item.ConnectionID] = struct{}{}
	o.mu.Unlock()

	if err := o.mark(ctx, item.ConnectionID); err != nil {
		o.logger.Warn().Err(err).Str("connection_id", item.ConnectionID).Msg("mark read on open failed")
		return true, err
	}
	return true, nil
}

// Closed forgets a conversation so the next open marks it again.
func (o *OpenMarker) Closed(connectionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.marked, connectionID)
}
