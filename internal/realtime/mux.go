package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mux owns the status socket of a session plus the per-conversation chat
// and typing sockets opened on demand.
type Mux struct {
	cfg    Config
	token  string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	status *Socket
	chat   map[string]*Socket
	typing map[string]*Socket
	closed bool
	wg     sync.WaitGroup
}

// NewMux creates a multiplexer that authenticates every channel with token.
func NewMux(cfg Config, token string) *Mux {
	ctx, cancel := context.WithCancel(context.Background())
	return &Mux{
		cfg:    cfg.Sanitize(),
		token:  token,
		logger: log.With().Str("component", "mux").Logger(),
		ctx:    ctx,
		cancel: cancel,
		chat:   make(map[string]*Socket),
		typing: make(map[string]*Socket),
	}
}

// StatusSocket returns the session's status socket, creating it on the first
// call without dialling. Listeners bound here see the initial snapshot once
// Status connects.
func (m *Mux) StatusSocket() (*Socket, error) {
	if m.token == "" {
		return nil, ErrNoToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.status == nil {
		m.status = NewSocket(m.cfg, StatusEndpoint, m.token)
	}
	return m.status, nil
}

// Status returns the session's status socket and connects it if it is not
// open yet.
func (m *Mux) Status(ctx context.Context) (*Socket, error) {
	sock, err := m.StatusSocket()
	if err != nil {
		return nil, err
	}
	err = sock.Connect(ctx)
	if err != nil && !errors.Is(err, ErrConnectInProgress) {
		// The socket keeps reconnecting on its own.
		return sock, err
	}
	return sock, nil
}

// Chat returns the chat socket for a conversation.
func (m *Mux) Chat(ctx context.Context, connectionID string) (*Socket, error) {
	return m.conversation(ctx, m.chat, ChatEndpoint(connectionID), connectionID)
}

// Typing returns the typing socket for a conversation.
func (m *Mux) Typing(ctx context.Context, connectionID string) (*Socket, error) {
	return m.conversation(ctx, m.typing, TypingEndpoint(connectionID), connectionID)
}

// conversation returns the registered socket for connectionID or registers a
// new one and connects it in the background. A socket stays registered after
// a failed connect and retries under its reconnection policy; asking for a
// socket that exhausted the policy starts it over.
func (m *Mux) conversation(ctx context.Context, sockets map[string]*Socket, endpoint, connectionID string) (*Socket, error) {
	if m.token == "" {
		return nil, ErrNoToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	sock, ok := sockets[connectionID]
	if ok && sock.State() != StateFailed {
		return sock, nil
	}
	if !ok {
		sock = NewSocket(m.cfg, endpoint, m.token)
		sockets[connectionID] = sock
	}
	m.connectLocked(ctx, sock)
	return sock, nil
}

func (m *Mux) connectLocked(ctx context.Context, sock *Socket) {
	connectCtx, cancel := context.WithCancel(m.ctx)
	stop := context.AfterFunc(ctx, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer stop()

		err := sock.Connect(connectCtx)
		if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrConnectInProgress) {
			m.logger.Warn().Err(err).Str("endpoint", sock.Endpoint()).Msg("initial connect failed, retrying")
		}
	}()
}

// DisconnectChat closes and forgets the chat socket for a conversation.
func (m *Mux) DisconnectChat(connectionID string) {
	m.disconnect(m.chat, connectionID)
}

// DisconnectTyping closes and forgets the typing socket for a conversation.
func (m *Mux) DisconnectTyping(connectionID string) {
	m.disconnect(m.typing, connectionID)
}

func (m *Mux) disconnect(sockets map[string]*Socket, connectionID string) {
	m.mu.Lock()
	sock, ok := sockets[connectionID]
	delete(sockets, connectionID)
	m.mu.Unlock()

	if ok {
		if err := sock.Close(); err != nil {
			m.logger.Debug().Err(err).Str("endpoint", sock.Endpoint()).Msg("close socket")
		}
	}
}

// StatusConnected reports whether the status socket is open.
func (m *Mux) StatusConnected() bool {
	m.mu.Lock()
	sock := m.status
	m.mu.Unlock()
	return sock != nil && sock.Connected()
}

// ChatIDs lists conversations with a chat socket, sorted.
func (m *Mux) ChatIDs() []string {
	return m.ids(m.chat)
}

// TypingIDs lists conversations with a typing socket, sorted.
func (m *Mux) TypingIDs() []string {
	return m.ids(m.typing)
}

func (m *Mux) ids(sockets map[string]*Socket) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(sockets))
	for id := range sockets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every socket and waits for background connects to finish.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sockets := make([]*Socket, 0, len(m.chat)+len(m.typing)+1)
	if m.status != nil {
		sockets = append(sockets, m.status)
	}
	for _, sock := range m.chat {
		sockets = append(sockets, sock)
	}
	for _, sock := range m.typing {
		sockets = append(sockets, sock)
	}
	m.status = nil
	clear(m.chat)
	clear(m.typing)
	m.mu.Unlock()

	m.cancel()

	var errs []error
	for _, sock := range sockets {
		if err := sock.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}
