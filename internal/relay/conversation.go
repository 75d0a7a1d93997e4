package relay

import (
	"time"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

// conversationBehavior keys rooms by connection ID and relays envelopes
// between the two participants. The typing variant only carries typing
// indicators and stamps them with the sender's identity.
type conversationBehavior struct {
	typing bool
}

func (conversationBehavior) joined(_ *hub, c *client, _ bool) {
	c.logger.Debug().Msg("joined conversation")
}

func (conversationBehavior) left(_ *hub, c *client, _ bool) {
	c.logger.Debug().Msg("left conversation")
}

func (b conversationBehavior) inbound(h *hub, c *client, env realtime.Envelope) {
	if b.typing {
		if env.Type != realtime.EventMessageTyping {
			c.logger.Debug().Str("type", string(env.Type)).Msg("ignoring envelope on typing channel")
			return
		}
		var ev realtime.TypingEvent
		if err := env.Decode(&ev); err != nil {
			c.logger.Debug().Err(err).Msg("invalid typing payload")
			return
		}
		ev.UserID = c.userID
		ev.ConnectionID = c.room
		if ev.UpdatedAt.IsZero() {
			ev.UpdatedAt = time.Now().UTC()
		}
		normalized, err := realtime.NewEnvelope(realtime.EventMessageTyping, ev)
		if err != nil {
			c.logger.Error().Err(err).Msg("encode typing")
			return
		}
		env = normalized
	}

	payload, err := env.Encode()
	if err != nil {
		c.logger.Error().Err(err).Msg("encode envelope")
		return
	}
	h.enqueue(roomDelivery(c.room, c.userID, payload))
}

// roomDelivery targets the room members other than senderID.
func roomDelivery(room, senderID string, payload []byte) delivery {
	return delivery{
		room:    room,
		payload: payload,
		skip:    func(c *client) bool { return senderID != "" && c.userID == senderID },
	}
}
