package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

// behavior is what distinguishes the status hub from the conversation hubs.
// joined and left run on the hub loop; inbound runs on the client's read pump.
type behavior interface {
	joined(h *hub, c *client, first bool)
	left(h *hub, c *client, last bool)
	inbound(h *hub, c *client, env realtime.Envelope)
}

// delivery is one payload fanned out to the members of a room, or to every
// client when room is empty. Clients matching skip are left out.
type delivery struct {
	room    string
	skip    func(*client) bool
	payload []byte
}

// hub groups clients into rooms and owns their pumps. Registration,
// removal and fan-out are serialised on the run loop.
type hub struct {
	name     string
	behavior behavior
	logger   zerolog.Logger

	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	mu      sync.RWMutex

	register   chan *client
	unregister chan *client
	deliveries chan delivery

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func newHub(name string, b behavior, logger zerolog.Logger) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &hub{
		name:       name,
		behavior:   b,
		logger:     logger.With().Str("hub", name).Logger(),
		clients:    make(map[*client]struct{}),
		rooms:      make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliveries: make(chan delivery, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (h *hub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.deliveries:
			h.deliver(d)
		}
	}
}

// join hands c to the run loop. It reports false once the hub is shutting down.
func (h *hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// enqueue schedules d on the run loop.
func (h *hub) enqueue(d delivery) {
	select {
	case h.deliveries <- d:
	case <-h.ctx.Done():
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	members, ok := h.rooms[c.room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[c.room] = members
	}
	first := len(members) == 0
	members[c] = struct{}{}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	c.logger.Debug().Int("clients", total).Msg("client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	h.behavior.joined(h, c, first)
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	members := h.rooms[c.room]
	delete(members, c)
	last := len(members) == 0
	if last {
		delete(h.rooms, c.room)
	}
	c.closed = true
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	c.logger.Debug().Int("clients", total).Msg("client unregistered")
	h.behavior.left(h, c, last)
}

// sendTo queues payload for c without blocking. It reports false when c is
// gone or its buffer is full.
func (h *hub) sendTo(c *client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *hub) deliver(d delivery) {
	h.mu.RLock()
	var targets []*client
	if d.room == "" {
		targets = make([]*client, 0, len(h.clients))
		for c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		for c := range h.rooms[d.room] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var failed []*client
	for _, c := range targets {
		if d.skip != nil && d.skip(c) {
			continue
		}
		if !h.sendTo(c, d.payload) {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		c.logger.Warn().Msg("dropping client with full send buffer")
		h.remove(c)
	}
}

// roomIDs returns the occupied room keys, sorted.
func (h *hub) roomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *hub) occupied(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room]) > 0
}

func (h *hub) shutdownClients() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		c.closed = true
		close(c.send)
	}
	clear(h.clients)
	clear(h.rooms)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeConn()
	}
	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// shutdown stops the run loop, closes every client and waits for their
// pumps until ctx is done.
func (h *hub) shutdown(ctx context.Context) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		h.logger.Warn().Msg("shutdown timed out waiting for client pumps")
		return ctx.Err()
	}
}
