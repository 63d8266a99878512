package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbuswire/notify-service/internal/broker"
	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/internal/registry"
	"github.com/nimbuswire/notify-service/internal/rooms"
	"github.com/nimbuswire/notify-service/internal/router"
	"github.com/nimbuswire/notify-service/internal/store"
)

type fakeSession struct {
	id     string
	userID string

	mu       sync.Mutex
	messages []json.RawMessage
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{id: uuid.New().String(), userID: userID}
}

func (f *fakeSession) SessionID() string      { return f.id }
func (f *fakeSession) UserID() string         { return f.userID }
func (f *fakeSession) ConnectedAt() time.Time { return time.Time{} }
func (f *fakeSession) Close()                 {}

func (f *fakeSession) Deliver(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, append(json.RawMessage(nil), data...))
	return nil
}

func (f *fakeSession) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Deliver(data)
}

func (f *fakeSession) lastMessage(t *testing.T) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(f.messages[len(f.messages)-1], &out))
	return out
}

type fixture struct {
	registry *registry.Registry
	rooms    *rooms.Manager
	store    *store.MemoryStore
	service  NotifyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := registry.New(uuid.New().String())
	rm := rooms.NewManager(reg.Drop)
	st := store.NewMemoryStore()

	rt, err := router.New(reg, rm, broker.NewBus().NewBridge(), st, config.RouterConfig{
		DedupWindow: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	return &fixture{
		registry: reg,
		rooms:    rm,
		store:    st,
		service:  New(reg, rm, rt),
	}
}

func TestHandleJoinRoomAcknowledges(t *testing.T) {
	f := newFixture(t)
	session := newFakeSession("alice")
	f.registry.Register(session)

	require.NoError(t, f.service.HandleJoinRoom(context.Background(), session, "lobby"))

	msg := session.lastMessage(t)
	assert.Equal(t, domain.MsgTypeRoomJoined, msg["type"])
	assert.Equal(t, "lobby", msg["room_id"])
	assert.Equal(t, []string{"alice"}, f.rooms.Members("lobby"))
}

func TestHandleJoinRoomRequiresRoomID(t *testing.T) {
	f := newFixture(t)
	session := newFakeSession("alice")

	require.NoError(t, f.service.HandleJoinRoom(context.Background(), session, ""))

	msg := session.lastMessage(t)
	assert.Equal(t, domain.MsgTypeError, msg["type"])
	assert.Equal(t, domain.ErrCodeBadRequest, msg["code"])
}

func TestHandleSendToPairRoomResolvesPeer(t *testing.T) {
	f := newFixture(t)
	sender := newFakeSession("alice")
	f.registry.Register(sender)

	roomID := domain.PairRoomID("alice", "bob")
	f.rooms.Join(roomID, sender)

	// Bob is offline everywhere, so the send lands in his backlog.
	err := f.service.HandleSend(context.Background(), sender, &domain.SendMessage{
		RoomID:  roomID,
		Payload: json.RawMessage(`{"text":"hi"}`),
	})
	require.NoError(t, err)

	stored, err := f.store.FetchUndelivered(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "alice", stored[0].Event.SenderUserID)
	assert.Equal(t, roomID, stored[0].Event.RoomID)
}

func TestHandleSendDirect(t *testing.T) {
	f := newFixture(t)
	sender := newFakeSession("alice")
	recipientSession := newFakeSession("bob")
	f.registry.Register(sender)
	f.registry.Register(recipientSession)

	err := f.service.HandleSend(context.Background(), sender, &domain.SendMessage{
		RecipientUserID: "bob",
		Payload:         json.RawMessage(`{"text":"hi"}`),
	})
	require.NoError(t, err)

	msg := recipientSession.lastMessage(t)
	assert.Equal(t, domain.MsgTypeEvent, msg["type"])
	assert.Equal(t, 0, f.store.Len("bob"))
}

func TestHandleSendValidation(t *testing.T) {
	f := newFixture(t)
	session := newFakeSession("alice")

	require.NoError(t, f.service.HandleSend(context.Background(), session, &domain.SendMessage{
		RoomID: "lobby",
	}))
	msg := session.lastMessage(t)
	assert.Equal(t, domain.ErrCodeBadRequest, msg["code"])

	require.NoError(t, f.service.HandleSend(context.Background(), session, &domain.SendMessage{
		Payload: json.RawMessage(`{}`),
	}))
	msg = session.lastMessage(t)
	assert.Equal(t, domain.ErrCodeBadRequest, msg["code"])
}

func TestHandleDisconnectCleansUp(t *testing.T) {
	f := newFixture(t)
	session := newFakeSession("alice")
	f.registry.Register(session)
	f.rooms.Join("lobby", session)

	f.service.HandleDisconnect(session)

	assert.False(t, f.registry.IsOnline("alice"))
	assert.Empty(t, f.rooms.Members("lobby"))

	// Disconnecting twice is harmless.
	f.service.HandleDisconnect(session)
}

func TestSubmitEvent(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.SubmitEvent(context.Background(), &SubmitEventRequest{
		Type:            "like",
		RecipientUserID: "bob",
		SenderUserID:    "alice",
		Payload:         json.RawMessage(`{"post_id":"42"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, router.StateStoredOffline, result.State)
	assert.Equal(t, 1, f.store.Len("bob"))
}

func TestSubmitEventValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SubmitEvent(context.Background(), &SubmitEventRequest{
		Type:            "poke",
		RecipientUserID: "bob",
		Payload:         json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = f.service.SubmitEvent(context.Background(), &SubmitEventRequest{
		Type:    "like",
		Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestPairPeer(t *testing.T) {
	assert.Equal(t, "bob", pairPeer("alice_bob", "alice"))
	assert.Equal(t, "alice", pairPeer("alice_bob", "bob"))
	assert.Empty(t, pairPeer("alice_bob", "carol"))
	assert.Empty(t, pairPeer("lobby", "alice"))
	assert.Empty(t, pairPeer("a_b_c", "a"))
}
