package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeStampsIDAndTime(t *testing.T) {
	env, err := NewEnvelope(EventMessageTyping, TypingEvent{ConnectionID: "c1", UserID: "u1", IsTyping: true})
	require.NoError(t, err)

	assert.Equal(t, EventMessageTyping, env.Type)
	assert.NotEmpty(t, env.MessageID)
	assert.False(t, env.Timestamp.IsZero())

	var got TypingEvent
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "c1", got.ConnectionID)
	assert.True(t, got.IsTyping)

	other, err := NewEnvelope(EventPong, nil)
	require.NoError(t, err)
	assert.NotEqual(t, env.MessageID, other.MessageID)
	assert.Empty(t, other.Data)
}

func TestNewEnvelopeRejectsUnencodablePayload(t *testing.T) {
	_, err := NewEnvelope(EventMessageNew, make(chan int))
	require.Error(t, err)
}

func TestDecodeWithoutData(t *testing.T) {
	env := Envelope{Type: EventUserOnline}
	var ev UserStatusEvent
	assert.Error(t, env.Decode(&ev))
}

// TestDecodeFrame verifies newline-batched frames are split and bad lines
// are reported without losing the good ones.
func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantTypes []EventType
		wantErrs  int
	}{
		{
			name:      "single envelope",
			frame:     `{"type":"user_online","data":{"user_id":"u1","status":"online"}}`,
			wantTypes: []EventType{EventUserOnline},
		},
		{
			name:      "batched envelopes",
			frame:     "{\"type\":\"ping\"}\n{\"type\":\"message_new\",\"data\":{}}\n",
			wantTypes: []EventType{EventPing, EventMessageNew},
		},
		{
			name:      "blank lines skipped",
			frame:     "\n  \n{\"type\":\"pong\"}\r\n",
			wantTypes: []EventType{EventPong},
		},
		{
			name:      "malformed line kept apart",
			frame:     "{\"type\":\"ping\"}\nnot json\n{\"type\":\"pong\"}",
			wantTypes: []EventType{EventPing, EventPong},
			wantErrs:  1,
		},
		{
			name:     "missing type",
			frame:    `{"data":{}}`,
			wantErrs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, errs := DecodeFrame([]byte(tt.frame))
			types := make([]EventType, 0, len(envs))
			for _, env := range envs {
				types = append(types, env.Type)
			}
			if len(tt.wantTypes) == 0 {
				assert.Empty(t, types)
			} else {
				assert.Equal(t, tt.wantTypes, types)
			}
			assert.Len(t, errs, tt.wantErrs)
		})
	}
}

func TestUserStatusInitialPayload(t *testing.T) {
	frame := `{"type":"user_status_initial","data":[{"user_id":"a","status":"online"},{"user_id":"b","status":"away"}]}`
	envs, errs := DecodeFrame([]byte(frame))
	require.Empty(t, errs)
	require.Len(t, envs, 1)

	var snapshot []UserStatusEvent
	require.NoError(t, envs[0].Decode(&snapshot))
	require.Len(t, snapshot, 2)
	assert.Equal(t, StatusAway, snapshot[1].Status)
}

func TestEnvelopeWireNames(t *testing.T) {
	env, err := NewEnvelope(EventMessageRead, MessageReadEvent{ConnectionID: "c1", ReadBy: "u2"})
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &wire))
	for _, key := range []string{"type", "data", "timestamp", "message_id"} {
		assert.Contains(t, wire, key)
	}
}

func TestStatusEventType(t *testing.T) {
	assert.Equal(t, EventUserOnline, StatusEventType(StatusOnline))
	assert.Equal(t, EventUserOffline, StatusEventType(StatusOffline))
	assert.Equal(t, EventUserAway, StatusEventType(StatusAway))
}
