package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.On(EventUserOnline, func(Envelope) { order = append(order, "first") })
	d.On(EventUserOnline, func(Envelope) { order = append(order, "second") })
	d.On(EventUserOffline, func(Envelope) { order = append(order, "offline") })

	d.Dispatch(Envelope{Type: EventUserOnline})
	assert.Equal(t, []string{"first", "second"}, order)

	d.Dispatch(Envelope{Type: EventMessageNew})
	assert.Len(t, order, 2, "unregistered type must be dropped")
}

func TestDispatcherOff(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	id := d.On(EventPing, func(Envelope) { calls++ })
	d.On(EventPing, func(Envelope) { calls += 10 })

	d.Off(EventPing, id)
	d.Off(EventPing, id)
	d.Off(EventPong, 999)

	d.Dispatch(Envelope{Type: EventPing})
	assert.Equal(t, 10, calls)
	assert.Equal(t, 1, d.Len(EventPing))
}

// TestDispatcherRecoversPanics verifies one failing listener does not stop
// the rest.
func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher()
	reached := false
	d.On(EventError, func(Envelope) { panic("boom") })
	d.On(EventError, func(Envelope) { reached = true })

	assert.NotPanics(t, func() { d.Dispatch(Envelope{Type: EventError}) })
	assert.True(t, reached)
}

func TestDispatcherSnapshotDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	var id ListenerID
	id = d.On(EventPing, func(Envelope) {
		calls++
		d.Off(EventPing, id)
		d.On(EventPing, func(Envelope) { calls += 100 })
	})

	d.Dispatch(Envelope{Type: EventPing})
	assert.Equal(t, 1, calls)

	d.Dispatch(Envelope{Type: EventPing})
	assert.Equal(t, 101, calls)
}

func TestDispatcherClear(t *testing.T) {
	d := NewDispatcher()
	d.On(EventPing, func(Envelope) {})
	d.On(EventPong, func(Envelope) {})
	d.Clear()
	assert.Zero(t, d.Len(EventPing))
	assert.Zero(t, d.Len(EventPong))
}

func TestSubscribeDecodesPayload(t *testing.T) {
	d := NewDispatcher()
	var got []UserStatusEvent
	Subscribe(d, EventUserAway, func(ev UserStatusEvent) { got = append(got, ev) })

	good, err := NewEnvelope(EventUserAway, UserStatusEvent{UserID: "u1", Status: StatusAway})
	assert.NoError(t, err)
	d.Dispatch(good)
	d.Dispatch(Envelope{Type: EventUserAway, Data: []byte(`"not an object"`)})
	d.Dispatch(Envelope{Type: EventUserAway})

	assert.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
}
