package relay

import (
	"sync"
	"time"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

// statusBehavior keys rooms by user ID. A user is online while at least one
// of their status sockets is open.
type statusBehavior struct {
	mu   sync.Mutex
	away map[string]struct{}
}

func newStatusBehavior() *statusBehavior {
	return &statusBehavior{away: make(map[string]struct{})}
}

func (s *statusBehavior) statusOf(userID string) realtime.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.away[userID]; ok {
		return realtime.StatusAway
	}
	return realtime.StatusOnline
}

func (s *statusBehavior) setAway(userID string, away bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if away {
		s.away[userID] = struct{}{}
	} else {
		delete(s.away, userID)
	}
}

// joined sends the snapshot of the other users, even when empty, then
// announces the user if this is their first socket.
func (s *statusBehavior) joined(h *hub, c *client, first bool) {
	now := time.Now().UTC()
	snapshot := make([]realtime.UserStatusEvent, 0)
	for _, id := range h.roomIDs() {
		if id == c.userID {
			continue
		}
		snapshot = append(snapshot, realtime.UserStatusEvent{UserID: id, Status: s.statusOf(id), LastActivity: now})
	}
	c.reply(realtime.EventUserStatusInitial, snapshot)

	if first {
		s.setAway(c.userID, false)
		announce(h, c, realtime.StatusOnline, true)
	}
}

func (s *statusBehavior) left(h *hub, c *client, last bool) {
	if !last {
		return
	}
	s.setAway(c.userID, false)
	announce(h, c, realtime.StatusOffline, true)
}

// inbound accepts away/online changes from the user and rebroadcasts them.
func (s *statusBehavior) inbound(h *hub, c *client, env realtime.Envelope) {
	var status realtime.Status
	switch env.Type {
	case realtime.EventUserAway:
		status = realtime.StatusAway
	case realtime.EventUserOnline:
		status = realtime.StatusOnline
	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("ignoring status envelope")
		return
	}
	if s.statusOf(c.userID) == status {
		return
	}
	s.setAway(c.userID, status == realtime.StatusAway)
	announce(h, c, status, false)
}

// statusDelivery announces userID's status to everyone else.
func statusDelivery(userID string, status realtime.Status) (delivery, error) {
	payload, err := encode(realtime.StatusEventType(status), realtime.UserStatusEvent{
		UserID:       userID,
		Status:       status,
		LastActivity: time.Now().UTC(),
	})
	if err != nil {
		return delivery{}, err
	}
	return delivery{
		payload: payload,
		skip:    func(c *client) bool { return c.userID == userID },
	}, nil
}

// announce fans the status out, directly when called from the hub loop.
func announce(h *hub, c *client, status realtime.Status, onLoop bool) {
	d, err := statusDelivery(c.userID, status)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode status")
		return
	}
	c.logger.Debug().Str("status", string(status)).Msg("broadcasting status")
	if onLoop {
		h.deliver(d)
		return
	}
	h.enqueue(d)
}
