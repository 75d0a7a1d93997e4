package relay

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// client is one accepted socket. closed is guarded by hub.mu.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *hub
	userID  string
	room    string
	closed  bool
	maxSize int64
	limiter *tokenBucket
	logger  zerolog.Logger
}

func newClient(conn *websocket.Conn, h *hub, userID, room, addr string, cfg Config) *client {
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		userID:  userID,
		room:    room,
		maxSize: cfg.MaxMessageSize,
		limiter: newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		logger: h.logger.With().
			Str("user_id", userID).
			Str("room", room).
			Str("addr", addr).
			Logger(),
	}
}

func (c *client) closeConn() {
	if err := c.conn.Close(); err != nil && !realtime.IsExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("close connection")
	}
}

func (c *client) setupRead() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("set read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.maxSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Debug().Msg("client disconnected")
	case errors.Is(err, io.EOF), realtime.IsExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Warn().Err(err).Msg("unexpected close")
	default:
		c.logger.Debug().Err(err).Msg("read error")
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.closeConn()
	}()

	c.setupRead()
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.allow() {
			c.logger.Warn().Msg("rate limit exceeded; discarding frame")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *client) handleFrame(frame []byte) {
	envs, errs := realtime.DecodeFrame(frame)
	for _, err := range errs {
		c.logger.Debug().Err(err).Msg("invalid envelope")
	}
	for _, env := range envs {
		switch env.Type {
		case realtime.EventPing:
			c.reply(realtime.EventPong, nil)
		case realtime.EventPong:
		default:
			c.hub.behavior.inbound(c.hub, c, env)
		}
	}
}

// reply queues an envelope for this client only.
func (c *client) reply(eventType realtime.EventType, data any) {
	payload, err := encode(eventType, data)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode reply")
		return
	}
	if !c.hub.sendTo(c, payload) {
		c.logger.Debug().Str("type", string(eventType)).Msg("reply dropped")
	}
}

func encode(eventType realtime.EventType, data any) ([]byte, error) {
	env, err := realtime.NewEnvelope(eventType, data)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.write(payload, ok) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("write ping")
				return
			}
		}
	}
}

// write sends payload plus everything already queued as one frame, one
// envelope per line. A closed send channel writes a close frame.
func (c *client) write(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !realtime.IsExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("write close")
		}
		return false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Debug().Err(err).Msg("next writer")
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	for n := len(c.send); n > 0; n-- {
		next, ok := <-c.send
		if !ok {
			break
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		if _, err := w.Write(next); err != nil {
			return false
		}
	}
	if err := w.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("flush frame")
		return false
	}
	return true
}
