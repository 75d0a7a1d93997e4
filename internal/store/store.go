// Package store keeps a local copy of conversation history in PebbleDB so a
// chat can be shown while the API is unreachable.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/matchlink/internal/model"
)

// MessageStore persists messages keyed by conversation and creation time.
// Keys are msg/<escaped connectionID>/<created_at big-endian nanos>/<messageID>.
//
// A nil *MessageStore is valid and stores nothing.
type MessageStore struct {
	db     *pebble.DB
	logger zerolog.Logger
}

var errEmptyConnection = errors.New("store: empty connection id")

// Open opens or creates the store in dir. An empty dir returns a nil store.
func Open(dir string) (*MessageStore, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &MessageStore{
		db:     db,
		logger: log.With().Str("component", "store").Logger(),
	}, nil
}

// conversationPrefix path-escapes the ID so a "/" inside it cannot reach into
// another conversation's range.
func conversationPrefix(connectionID string) []byte {
	return []byte("msg/" + url.PathEscape(connectionID) + "/")
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func messageKey(m model.Message) []byte {
	prefix := conversationPrefix(m.ConnectionID)
	key := make([]byte, 0, len(prefix)+8+1+len(m.ID))
	key = append(key, prefix...)

	var nanos uint64
	if !m.CreatedAt.IsZero() && m.CreatedAt.Unix() >= 0 {
		nanos = uint64(m.CreatedAt.UnixNano())
	}
	key = binary.BigEndian.AppendUint64(key, nanos)
	key = append(key, '/')
	return append(key, m.ID...)
}

// SaveMessages writes messages of one conversation. Optimistic messages are
// skipped. Messages with a different connection ID are stored under
// connectionID.
func (s *MessageStore) SaveMessages(connectionID string, msgs []model.Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	if connectionID == "" {
		return errEmptyConnection
	}

	batch := s.db.NewBatch()
	defer func() { _ = batch.Close() }()

	saved := 0
	for _, m := range msgs {
		if m.ID == "" || m.IsTemp() {
			continue
		}
		m.ConnectionID = connectionID
		m.Sending = false
		val, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		if err := batch.Set(messageKey(m), val, nil); err != nil {
			return err
		}
		saved++
	}
	if saved == 0 {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	s.logger.Debug().Str("connection_id", connectionID).Int("saved", saved).Msg("cached messages")
	return nil
}

// LoadMessages returns up to limit of the most recent messages, oldest
// first. A limit <= 0 returns all of them.
func (s *MessageStore) LoadMessages(connectionID string, limit int) ([]model.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	prefix := conversationPrefix(connectionID)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []model.Message
	for valid := it.Last(); valid; valid = it.Prev() {
		var m model.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			s.logger.Warn().Err(err).Bytes("key", it.Key()).Msg("skipping corrupt cached message")
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteConversation drops every cached message of a conversation.
func (s *MessageStore) DeleteConversation(connectionID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if connectionID == "" {
		return errEmptyConnection
	}
	prefix := conversationPrefix(connectionID)
	return s.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync)
}

// Close flushes and closes the database.
func (s *MessageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
