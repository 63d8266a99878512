package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeValid(t *testing.T) {
	assert.True(t, EventTypeMessage.Valid())
	assert.True(t, EventTypeLike.Valid())
	assert.True(t, EventTypeComment.Valid())
	assert.True(t, EventTypeFollow.Valid())
	assert.True(t, EventTypeCustom.Valid())

	assert.False(t, EventType("").Valid())
	assert.False(t, EventType("poke").Valid())
}

func TestNewEvent(t *testing.T) {
	payload := json.RawMessage(`{"text":"hi"}`)
	event := NewEvent(EventTypeMessage, "user-b", "user-a", "room-1", payload)

	require.NotEmpty(t, event.EventID)
	assert.Equal(t, EventTypeMessage, event.Type)
	assert.Equal(t, "user-b", event.RecipientUserID)
	assert.Equal(t, "user-a", event.SenderUserID)
	assert.Equal(t, "room-1", event.RoomID)
	assert.Equal(t, payload, event.Payload)
	assert.False(t, event.CreatedAt.IsZero())

	other := NewEvent(EventTypeMessage, "user-b", "user-a", "room-1", payload)
	assert.NotEqual(t, event.EventID, other.EventID)
}

func TestRoutingKey(t *testing.T) {
	roomEvent := NewEvent(EventTypeMessage, "user-b", "user-a", "room-1", nil)
	assert.Equal(t, "room-1", roomEvent.RoutingKey())

	directEvent := NewEvent(EventTypeLike, "user-b", "user-a", "", nil)
	assert.Equal(t, "user-b", directEvent.RoutingKey())
}

func TestPairRoomID(t *testing.T) {
	assert.Equal(t, "alice_bob", PairRoomID("alice", "bob"))
	assert.Equal(t, "alice_bob", PairRoomID("bob", "alice"))
	assert.Equal(t, PairRoomID("u1", "u2"), PairRoomID("u2", "u1"))
}
