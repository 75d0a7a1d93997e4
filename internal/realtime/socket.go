package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a Socket.
type State int

// Socket states.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Socket is one reconnecting WebSocket channel. Envelopes sent while the
// socket is not open are queued and flushed in order once it opens.
type Socket struct {
	cfg        Config
	endpoint   string
	token      string
	dialer     *websocket.Dialer
	dispatcher *Dispatcher
	policy     *ReconnectPolicy
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	out            chan Envelope
	queue          []Envelope
	reconnectTimer *time.Timer
	observers      []func(State)
	wg             sync.WaitGroup
}

// NewSocket prepares a socket for endpoint. Nothing is dialled until Connect.
func NewSocket(cfg Config, endpoint, token string) *Socket {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		cfg:      cfg,
		endpoint: endpoint,
		token:    token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		dispatcher: NewDispatcher(),
		policy:     NewReconnectPolicy(ctx, cfg.MaxReconnectAttempts, cfg.ReconnectInterval),
		logger:     log.With().Str("component", "socket").Str("endpoint", endpoint).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateIdle,
	}
}

// Endpoint returns the channel path this socket serves.
func (s *Socket) Endpoint() string {
	return s.endpoint
}

// Dispatcher exposes the listener registry, e.g. for Subscribe.
func (s *Socket) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// On registers a listener for eventType.
func (s *Socket) On(eventType EventType, fn Handler) ListenerID {
	return s.dispatcher.On(eventType, fn)
}

// Off removes a listener registration.
func (s *Socket) Off(eventType EventType, id ListenerID) {
	s.dispatcher.Off(eventType, id)
}

// OnState registers an observer for state transitions.
func (s *Socket) OnState(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the socket is open.
func (s *Socket) Connected() bool {
	return s.State() == StateOpen
}

// Queued returns the number of envelopes waiting for the socket to open.
func (s *Socket) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Connect dials the endpoint and returns once the socket is open. A failed
// dial arms the reconnection policy before the error is returned.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateFailed:
		s.policy.Reset()
	}
	s.stopReconnectTimerLocked()
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify(StateConnecting)

	if err := s.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		s.logger.Warn().Err(err).Msg("connect failed")
		s.scheduleReconnect()
		return fmt.Errorf("connect %s: %w", s.endpoint, err)
	}
	return nil
}

func (s *Socket) dial(ctx context.Context) error {
	target, err := s.cfg.SocketURL(s.endpoint, s.token)
	if err != nil {
		return err
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return err
	}
	return s.open(conn)
}

// open installs conn as the live connection, starts the pumps, and flushes
// the outbound queue ahead of any envelope sent afterwards.
func (s *Socket) open(conn *websocket.Conn) error {
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}

	out := make(chan Envelope, s.cfg.QueueSize)
	flushed := len(s.queue)
	for _, env := range s.queue {
		out <- env
	}
	s.queue = nil
	s.conn = conn
	s.out = out
	s.state = StateOpen

	done := make(chan struct{})
	writerResult := make(chan *Envelope, 1)
	s.wg.Add(2)
	go s.writePump(conn, out, done, writerResult)
	go s.readPump(conn, out, done, writerResult)
	s.mu.Unlock()

	s.policy.Reset()
	s.logger.Info().Int("flushed", flushed).Msg("socket open")
	s.notify(StateOpen)
	return nil
}

// Send wraps data in an envelope and writes it, or queues it while the socket
// is not open.
func (s *Socket) Send(eventType EventType, data any) error {
	env, err := NewEnvelope(eventType, data)
	if err != nil {
		return err
	}
	return s.SendEnvelope(env)
}

// SendEnvelope writes a prepared envelope, or queues it while the socket is
// not open.
func (s *Socket) SendEnvelope(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return ErrClosed
	case s.state == StateOpen && s.out != nil:
		select {
		case s.out <- env:
			return nil
		default:
			return fmt.Errorf("%w: %d envelopes waiting", ErrBacklogFull, cap(s.out))
		}
	default:
		s.enqueueLocked(env)
		return nil
	}
}

func (s *Socket) enqueueLocked(envs ...Envelope) {
	s.queue = append(s.queue, envs...)
	if over := len(s.queue) - s.cfg.QueueSize; over > 0 {
		s.logger.Warn().Int("dropped", over).Msg("outbound queue full, dropping oldest envelopes")
		s.queue = append([]Envelope(nil), s.queue[over:]...)
	}
}

// Close stops reconnection, closes the connection, and clears listeners and
// the outbound queue. It is safe to call more than once.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.stopReconnectTimerLocked()
	conn := s.conn
	s.queue = nil
	s.mu.Unlock()

	s.cancel()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.cfg.WriteWait))
		if cerr := conn.Close(); cerr != nil && !IsExpectedCloseError(cerr) {
			err = cerr
		}
	}

	s.notify(StateClosed)
	s.dispatcher.Clear()

	s.mu.Lock()
	s.observers = nil
	s.mu.Unlock()

	s.logger.Debug().Msg("socket closed")
	return err
}

// Wait blocks until the pumps of the last connection have exited. It must not
// be called from a listener.
func (s *Socket) Wait() {
	s.wg.Wait()
}

func (s *Socket) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Socket) notify(state State) {
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

// scheduleReconnect arms the next reconnect attempt or marks the socket failed
// when the policy is exhausted.
func (s *Socket) scheduleReconnect() {
	attempt, delay, ok := s.policy.Next()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if !ok {
		s.state = StateFailed
		s.mu.Unlock()
		s.logger.Error().Int("attempts", attempt).Msg("max reconnection attempts reached")
		s.notify(StateFailed)
		return
	}
	s.state = StateReconnecting
	s.stopReconnectTimerLocked()
	s.reconnectTimer = time.AfterFunc(delay, s.reconnect)
	s.mu.Unlock()

	s.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	s.notify(StateReconnecting)
}

func (s *Socket) reconnect() {
	s.mu.Lock()
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify(StateConnecting)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	if err := s.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) || s.ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("reconnection failed")
		s.scheduleReconnect()
	}
}

// connectionLost returns unsent envelopes to the front of the queue and arms
// the reconnection policy unless the socket was closed on purpose.
func (s *Socket) connectionLost(conn *websocket.Conn, out chan Envelope, failed *Envelope) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.out = nil

	var unsent []Envelope
	if failed != nil {
		unsent = append(unsent, *failed)
	}
drain:
	for {
		select {
		case env := <-out:
			unsent = append(unsent, env)
		default:
			break drain
		}
	}

	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	pending := s.queue
	s.queue = nil
	s.enqueueLocked(append(unsent, pending...)...)
	s.state = StateReconnecting
	s.mu.Unlock()

	if len(unsent) > 0 {
		s.logger.Info().Int("requeued", len(unsent)).Msg("requeued unsent envelopes")
	}
	s.scheduleReconnect()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Socket) setupReadConnection(conn *websocket.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
		s.logger.Debug().Err(err).Msg("set initial read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
}

// handleReadError logs the read failure at a level matching how expected it is.
func (s *Socket) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn().Int64("limit", s.cfg.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.logger.Info().Err(err).Msg("server closed connection")
	case errors.Is(err, io.EOF) || IsExpectedCloseError(err):
		s.logger.Debug().Err(err).Msg("connection closed")
	default:
		s.logger.Warn().Err(err).Msg("websocket read error")
	}
}

func (s *Socket) readPump(conn *websocket.Conn, out chan Envelope, done chan struct{}, writerResult <-chan *Envelope) {
	defer s.wg.Done()
	defer func() {
		close(done)
		failed := <-writerResult
		if err := conn.Close(); err != nil && !IsExpectedCloseError(err) {
			s.logger.Debug().Err(err).Msg("close after read loop")
		}
		s.connectionLost(conn, out, failed)
	}()

	s.setupReadConnection(conn)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
			s.logger.Debug().Err(err).Msg("refresh read deadline")
		}
		s.handleFrame(frame)
	}
}

func (s *Socket) handleFrame(frame []byte) {
	envs, errs := DecodeFrame(frame)
	for _, err := range errs {
		s.logger.Warn().Err(err).Bytes("raw", frame).Msg("failed to parse websocket message")
	}
	for _, env := range envs {
		if env.Type == EventPing {
			if err := s.Send(EventPong, nil); err != nil {
				s.logger.Debug().Err(err).Msg("answer ping")
			}
		}
		s.dispatcher.Dispatch(env)
	}
}

func (s *Socket) writePump(conn *websocket.Conn, out <-chan Envelope, done <-chan struct{}, writerResult chan<- *Envelope) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	var failed *Envelope
	defer func() {
		ticker.Stop()
		writerResult <- failed
		close(writerResult)
		s.wg.Done()
	}()

	for {
		select {
		case <-done:
			return
		case env := <-out:
			if !s.writeEnvelope(conn, env) {
				failed = &env
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if !s.handlePing(conn) {
				_ = conn.Close()
				return
			}
		}
	}
}

// writeEnvelope writes one envelope as a text frame and returns false if the
// connection should be abandoned.
func (s *Socket) writeEnvelope(conn *websocket.Conn, env Envelope) bool {
	data, err := env.Encode()
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(env.Type)).Msg("dropping unencodable envelope")
		return true
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		s.logger.Debug().Err(err).Msg("set write deadline")
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !IsExpectedCloseError(err) {
			s.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("write envelope")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (s *Socket) handlePing(conn *websocket.Conn) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait)); err != nil {
		s.logger.Debug().Err(err).Msg("set write deadline for ping")
		return false
	}
	if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !IsExpectedCloseError(err) {
			s.logger.Warn().Err(err).Msg("write ping")
		}
		return false
	}
	return true
}
