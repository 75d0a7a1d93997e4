package realtime

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsServer is a minimal protocol peer used by the socket tests.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []Envelope
	paths    []string
	tokens   []string
	reject   bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{t: t}
	s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.dropAll()
		s.srv.Close()
	})
	return s
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.paths = append(s.paths, r.URL.Path)
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.mu.Unlock()

	if reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		envs, _ := DecodeFrame(frame)
		s.mu.Lock()
		s.received = append(s.received, envs...)
		s.mu.Unlock()
	}
}

func (s *wsServer) cfg() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = s.srv.URL
	return cfg
}

func (s *wsServer) setReject(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = v
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

func (s *wsServer) lastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return ""
	}
	return s.tokens[len(s.tokens)-1]
}

func (s *wsServer) receivedTypes() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]EventType, 0, len(s.received))
	for _, env := range s.received {
		types = append(types, env.Type)
	}
	return types
}

func (s *wsServer) receivedOf(eventType EventType) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, env := range s.received {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

// push writes a raw text frame to the most recent connection.
func (s *wsServer) push(frame []byte) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.conns, "no connection to push to")
	require.NoError(s.t, s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, frame))
}

func (s *wsServer) pushEnvelope(eventType EventType, data any) {
	s.t.Helper()
	env, err := NewEnvelope(eventType, data)
	require.NoError(s.t, err)
	raw, err := env.Encode()
	require.NoError(s.t, err)
	s.push(raw)
}

// dropAll closes every server-side connection without a close handshake.
func (s *wsServer) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
