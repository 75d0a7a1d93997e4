// Package connections keeps the pending connection requests and established
// connections of the current user in sync with status channel events.
package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/matchlink/internal/model"
	"github.com/Tyrowin/matchlink/internal/realtime"
)

// Lister fetches the authoritative lists.
type Lister interface {
	Connections(ctx context.Context) ([]model.Connection, error)
	ConnectionRequests(ctx context.Context) ([]model.ConnectionRequest, error)
}

// Tracker caches both lists, applies realtime events to them and refetches
// in the background when an event invalidates a list.
type Tracker struct {
	lister Lister
	userID string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	requests    []model.ConnectionRequest
	connections []model.Connection
	requestGen  uint64
	connGen     uint64
	observers   []func(notice string)
	closed      bool
	wg          sync.WaitGroup
}

// NewTracker returns a tracker for userID.
func NewTracker(lister Lister, userID string) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		lister: lister,
		userID: userID,
		logger: log.With().Str("component", "connections").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Load fetches both lists.
func (t *Tracker) Load(ctx context.Context) error {
	return errors.Join(t.refetchRequests(ctx), t.refetchConnections(ctx))
}

// Requests returns a snapshot of the pending requests, newest first.
func (t *Tracker) Requests() []model.ConnectionRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.ConnectionRequest(nil), t.requests...)
}

// Connections returns a snapshot of the established connections.
func (t *Tracker) Connections() []model.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Connection(nil), t.connections...)
}

// OnNotice registers fn for user-facing notices.
func (t *Tracker) OnNotice(fn func(notice string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers[:len(t.observers):len(t.observers)], fn)
}

// HandleRequest applies a connection_request event.
func (t *Tracker) HandleRequest(ev realtime.ConnectionRequestEvent) {
	switch ev.Action {
	case realtime.RequestNew:
		t.mu.Lock()
		t.requestGen++
		t.requests = append([]model.ConnectionRequest{ev.Request}, t.requests...)
		t.mu.Unlock()
		t.notice("New connection request from " + ev.Request.Sender.DisplayName("someone"))
	case realtime.RequestAccepted:
		t.notice("Your connection request was accepted!")
	case realtime.RequestDeclined:
		t.notice("Your connection request was declined")
	default:
		t.logger.Debug().Str("action", ev.Action).Msg("ignoring request action")
		return
	}
	t.background(t.refetchRequests)
}

// HandleConnection applies connection_accepted and connection_dropped events.
func (t *Tracker) HandleConnection(ev realtime.ConnectionEvent) {
	switch ev.Action {
	case realtime.ConnectionEstablished:
		t.mu.Lock()
		t.connGen++
		t.connections = append([]model.Connection{ev.Connection}, t.connections...)
		t.mu.Unlock()
		t.notice("Connection established with " + ev.Connection.Other(t.userID).DisplayName("user"))
		t.background(t.refetchConnections)
		t.background(t.refetchRequests)
	case realtime.ConnectionDropped:
		t.notice("A connection was dropped")
		t.background(t.refetchConnections)
	default:
		t.logger.Debug().Str("action", ev.Action).Msg("ignoring connection action")
	}
}

// Bind registers the tracker on a status socket.
func (t *Tracker) Bind(sock *realtime.Socket) (unbind func()) {
	d := sock.Dispatcher()
	requestID := realtime.Subscribe(d, realtime.EventConnectionRequest, t.HandleRequest)
	acceptedID := realtime.Subscribe(d, realtime.EventConnectionAccepted, t.HandleConnection)
	droppedID := realtime.Subscribe(d, realtime.EventConnectionDropped, func(ev realtime.ConnectionEvent) {
		if ev.Action == "" {
			ev.Action = realtime.ConnectionDropped
		}
		t.HandleConnection(ev)
	})
	return func() {
		sock.Off(realtime.EventConnectionRequest, requestID)
		sock.Off(realtime.EventConnectionAccepted, acceptedID)
		sock.Off(realtime.EventConnectionDropped, droppedID)
	}
}

// Close stops background refetches and waits for them.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) background(fetch func(ctx context.Context) error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		if err := fetch(t.ctx); err != nil && t.ctx.Err() == nil {
			t.logger.Warn().Err(err).Msg("refetch failed")
		}
	}()
}

func (t *Tracker) refetchRequests(ctx context.Context) error {
	t.mu.Lock()
	t.requestGen++
	gen := t.requestGen
	t.mu.Unlock()

	reqs, err := t.lister.ConnectionRequests(ctx)
	if err != nil {
		return fmt.Errorf("fetch connection requests: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.requestGen {
		t.requests = reqs
	}
	return nil
}

func (t *Tracker) refetchConnections(ctx context.Context) error {
	t.mu.Lock()
	t.connGen++
	gen := t.connGen
	t.mu.Unlock()

	conns, err := t.lister.Connections(ctx)
	if err != nil {
		return fmt.Errorf("fetch connections: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.connGen {
		t.connections = conns
	}
	return nil
}

func (t *Tracker) notice(msg string) {
	t.mu.Lock()
	observers := t.observers
	t.mu.Unlock()

	t.logger.Info().Msg(msg)
	for _, fn := range observers {
		fn(msg)
	}
}
