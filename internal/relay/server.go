// Package relay is a development server speaking the realtime protocol:
// a status channel with presence, and per-connection chat and typing
// channels that relay envelopes between participants.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

// Server owns the three hubs and the HTTP routes in front of them.
type Server struct {
	cfg    Config
	logger zerolog.Logger

	status *hub
	chat   *hub
	typing *hub

	origins  originPolicy
	upgrader websocket.Upgrader
	router   chi.Router
	http     *http.Server
}

// New builds a server and starts its hubs.
func New(cfg Config) *Server {
	cfg = cfg.Sanitize()
	logger := log.With().Str("component", "relay").Logger()

	s := &Server{
		cfg:    cfg,
		logger: logger,
		status: newHub("status", newStatusBehavior(), logger),
		chat:   newHub("chat", conversationBehavior{}, logger),
		typing: newHub("typing", conversationBehavior{typing: true}, logger),
	}
	s.origins = newOriginPolicy(cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	for _, h := range s.hubs() {
		go h.run()
	}
	if len(cfg.Tokens) == 0 {
		logger.Warn().Msg("no tokens configured; accepting any token as the user id")
	}
	return s
}

func (s *Server) hubs() []*hub {
	return []*hub{s.status, s.chat, s.typing}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured port until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.Port).Msg("relay listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every socket and waits for the
// client pumps until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, h := range s.hubs() {
		if err := h.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info().Msg("relay shut down")
	return errors.Join(errs...)
}

// Notify pushes an event to every status socket of userID.
func (s *Server) Notify(userID string, eventType realtime.EventType, data any) error {
	payload, err := encode(eventType, data)
	if err != nil {
		return err
	}
	s.status.enqueue(delivery{room: userID, payload: payload})
	return nil
}

// Publish pushes an event to the chat sockets of a connection, leaving out
// senderID.
func (s *Server) Publish(connectionID string, eventType realtime.EventType, data any, senderID string) error {
	payload, err := encode(eventType, data)
	if err != nil {
		return err
	}
	s.chat.enqueue(roomDelivery(connectionID, senderID, payload))
	return nil
}

// OnlineUsers returns the users with an open status socket, sorted.
func (s *Server) OnlineUsers() []string {
	return s.status.roomIDs()
}

// IsOnline reports whether userID has an open status socket.
func (s *Server) IsOnline(userID string) bool {
	return s.status.occupied(userID)
}

// authenticate resolves the token query parameter to a user ID.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", false
	}
	if len(s.cfg.Tokens) == 0 {
		return token, true
	}
	userID, ok := s.cfg.Tokens[token]
	return userID, ok
}
