package realtime

import (
	"sort"
	"sync"
)

// Presence tracks the online/away/offline status of users seen on the
// status channel.
type Presence struct {
	mu       sync.RWMutex
	statuses map[string]Status
	online   map[string]struct{}
	watchers []func(userID string, s Status)
}

// NewPresence returns an empty presence table.
func NewPresence() *Presence {
	return &Presence{
		statuses: make(map[string]Status),
		online:   make(map[string]struct{}),
	}
}

type change struct {
	userID string
	status Status
}

// Apply records one status event.
func (p *Presence) Apply(ev UserStatusEvent) {
	if ev.UserID == "" {
		return
	}
	p.mu.Lock()
	changed := p.setLocked(ev.UserID, ev.Status)
	watchers := p.watchers
	p.mu.Unlock()

	if changed {
		notify(watchers, []change{{ev.UserID, ev.Status}})
	}
}

// ApplySnapshot replaces the table with the users in the snapshot. Every
// known online or away user missing from it becomes offline.
func (p *Presence) ApplySnapshot(users []UserStatusEvent) {
	seen := make(map[string]struct{}, len(users))

	p.mu.Lock()
	var changes []change
	for _, u := range users {
		if u.UserID == "" {
			continue
		}
		status := u.Status
		if status == "" {
			status = StatusOnline
		}
		seen[u.UserID] = struct{}{}
		if p.setLocked(u.UserID, status) {
			changes = append(changes, change{u.UserID, status})
		}
	}
	for id := range p.statuses {
		if _, ok := seen[id]; ok {
			continue
		}
		if p.setLocked(id, StatusOffline) {
			changes = append(changes, change{id, StatusOffline})
		}
	}
	watchers := p.watchers
	p.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].userID < changes[j].userID })
	notify(watchers, changes)
}

// setLocked stores status and reports whether it changed.
func (p *Presence) setLocked(userID string, status Status) bool {
	prev, known := p.statuses[userID]
	if !known {
		prev = StatusOffline
	}

	switch status {
	case StatusOnline:
		p.online[userID] = struct{}{}
	default:
		delete(p.online, userID)
	}
	if status == StatusOffline {
		delete(p.statuses, userID)
	} else {
		p.statuses[userID] = status
	}
	return prev != status
}

func notify(watchers []func(string, Status), changes []change) {
	for _, c := range changes {
		for _, fn := range watchers {
			fn(c.userID, c.status)
		}
	}
}

// Status returns the user's presence. Unknown users are offline.
func (p *Presence) Status(userID string) Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.statuses[userID]; ok {
		return s
	}
	return StatusOffline
}

// IsOnline reports whether the user is online.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online user IDs, sorted.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch registers fn to be called for every status transition.
func (p *Presence) Watch(fn func(userID string, s Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers = append(p.watchers[:len(p.watchers):len(p.watchers)], fn)
}

// Bind registers the presence listeners on a status socket. The returned
// func removes them.
func (p *Presence) Bind(sock *Socket) (unbind func()) {
	d := sock.Dispatcher()
	ids := map[EventType]ListenerID{
		EventUserOnline:        Subscribe(d, EventUserOnline, p.applyAs(StatusOnline)),
		EventUserOffline:       Subscribe(d, EventUserOffline, p.applyAs(StatusOffline)),
		EventUserAway:          Subscribe(d, EventUserAway, p.applyAs(StatusAway)),
		EventUserStatusInitial: Subscribe(d, EventUserStatusInitial, p.ApplySnapshot),
	}
	return func() {
		for eventType, id := range ids {
			sock.Off(eventType, id)
		}
	}
}

// applyAs applies an event using the status implied by its type when the
// payload omits one.
func (p *Presence) applyAs(status Status) func(UserStatusEvent) {
	return func(ev UserStatusEvent) {
		if ev.Status == "" {
			ev.Status = status
		}
		p.Apply(ev)
	}
}
