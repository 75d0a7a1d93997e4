package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws/online-users", s.handleOnlineUsers)
	r.Get("/ws/status", func(w http.ResponseWriter, r *http.Request) {
		s.serveSocket(w, r, s.status, "")
	})
	r.Get("/ws/chat/{connectionID}", func(w http.ResponseWriter, r *http.Request) {
		s.serveSocket(w, r, s.chat, chi.URLParam(r, "connectionID"))
	})
	r.Get("/ws/typing/{connectionID}", func(w http.ResponseWriter, r *http.Request) {
		s.serveSocket(w, r, s.typing, chi.URLParam(r, "connectionID"))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "matchlink relay is running")
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.OnlineUsers()
	writeJSON(w, http.StatusOK, map[string]any{
		"online_users": users,
		"count":        len(users),
	})
}

// serveSocket authenticates and upgrades the request, then registers the
// socket in room. The status hub uses the user ID as the room.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, h *hub, room string) {
	userID, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if h == s.status {
		room = userID
	}
	if room == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing connection id"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("upgrade failed")
		return
	}

	c := newClient(conn, h, userID, room, r.RemoteAddr, s.cfg)
	if !h.join(c) {
		c.closeConn()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
