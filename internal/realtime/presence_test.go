package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceApply(t *testing.T) {
	p := NewPresence()
	assert.Equal(t, StatusOffline, p.Status("nobody"))

	p.Apply(UserStatusEvent{UserID: "a", Status: StatusOnline})
	p.Apply(UserStatusEvent{UserID: "b", Status: StatusOnline})
	assert.Equal(t, []string{"a", "b"}, p.Online())

	p.Apply(UserStatusEvent{UserID: "a", Status: StatusAway})
	assert.Equal(t, StatusAway, p.Status("a"))
	assert.False(t, p.IsOnline("a"), "away users are not online")
	assert.Equal(t, []string{"b"}, p.Online())

	p.Apply(UserStatusEvent{UserID: "b", Status: StatusOffline})
	assert.Equal(t, StatusOffline, p.Status("b"))
	assert.Empty(t, p.Online())
}

func TestPresenceWatchOnlyTransitions(t *testing.T) {
	p := NewPresence()
	var changes []string
	p.Watch(func(id string, s Status) { changes = append(changes, id+":"+string(s)) })

	p.Apply(UserStatusEvent{UserID: "a", Status: StatusOnline})
	p.Apply(UserStatusEvent{UserID: "a", Status: StatusOnline})
	p.Apply(UserStatusEvent{UserID: "a", Status: StatusOffline})
	p.Apply(UserStatusEvent{UserID: "z", Status: StatusOffline})
	p.Apply(UserStatusEvent{Status: StatusOnline})

	assert.Equal(t, []string{"a:online", "a:offline"}, changes)
}

// TestPresenceSnapshotReplacesOnlineSet verifies users missing from the
// initial snapshot are marked offline.
func TestPresenceSnapshotReplacesOnlineSet(t *testing.T) {
	p := NewPresence()
	p.Apply(UserStatusEvent{UserID: "stale", Status: StatusOnline})
	p.Apply(UserStatusEvent{UserID: "kept", Status: StatusOnline})

	var changes []string
	p.Watch(func(id string, s Status) { changes = append(changes, id+":"+string(s)) })

	p.ApplySnapshot([]UserStatusEvent{
		{UserID: "kept", Status: StatusOnline},
		{UserID: "new"},
		{UserID: "idle", Status: StatusAway},
	})

	assert.Equal(t, []string{"kept", "new"}, p.Online())
	assert.Equal(t, StatusOffline, p.Status("stale"))
	assert.Equal(t, StatusAway, p.Status("idle"))
	assert.Equal(t, []string{"idle:away", "new:online", "stale:offline"}, changes)
}

func TestPresenceSnapshotClearsMissingAway(t *testing.T) {
	p := NewPresence()
	p.Apply(UserStatusEvent{UserID: "u1", Status: StatusAway})

	var changes []string
	p.Watch(func(id string, s Status) { changes = append(changes, id+":"+string(s)) })

	p.ApplySnapshot([]UserStatusEvent{{UserID: "u2", Status: StatusOnline}})

	assert.Equal(t, StatusOffline, p.Status("u1"))
	assert.Equal(t, []string{"u2"}, p.Online())
	assert.Equal(t, []string{"u1:offline", "u2:online"}, changes)
}

func TestPresenceBind(t *testing.T) {
	srv := newWSServer(t)
	sock := newTestSocket(t, srv.cfg(), StatusEndpoint)
	p := NewPresence()

	var mu sync.Mutex
	seen := map[string]Status{}
	p.Watch(func(id string, s Status) {
		mu.Lock()
		defer mu.Unlock()
		seen[id] = s
	})
	unbind := p.Bind(sock)

	require.NoError(t, sock.Connect(context.Background()))
	srv.pushEnvelope(EventUserStatusInitial, []UserStatusEvent{{UserID: "a", Status: StatusOnline}})
	srv.pushEnvelope(EventUserOnline, UserStatusEvent{UserID: "b"})
	srv.pushEnvelope(EventUserAway, UserStatusEvent{UserID: "a"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["a"] == StatusAway && seen["b"] == StatusOnline
	}, waitFor, tick)
	assert.Equal(t, []string{"b"}, p.Online())

	unbind()
	assert.Zero(t, sock.Dispatcher().Len(EventUserOnline))
	assert.Zero(t, sock.Dispatcher().Len(EventUserStatusInitial))
}
