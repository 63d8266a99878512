package rooms

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbuswire/notify-service/internal/domain"
)

type fakeSession struct {
	id     string
	userID string

	mu        sync.Mutex
	delivered [][]byte
	slow      bool
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
	if f.slow {
		return errors.New("send buffer full")
	}
	f.delivered = append(f.delivered, data)
	return nil
}

func (f *fakeSession) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Deliver(data)
}

func (f *fakeSession) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func testEvent(roomID string) *domain.Event {
	return domain.NewEvent(domain.EventTypeMessage, "", "sender", roomID, json.RawMessage(`{}`))
}

func TestJoinIdempotent(t *testing.T) {
	m := NewManager(nil)
	session := newFakeSession("user-a")

	m.Join("room-1", session)
	m.Join("room-1", session)

	assert.Equal(t, 1, m.SessionCount("room-1"))
	assert.Equal(t, []string{"user-a"}, m.Members("room-1"))
}

func TestLeaveIdempotent(t *testing.T) {
	m := NewManager(nil)
	session := newFakeSession("user-a")
	m.Join("room-1", session)

	m.Leave("room-1", session.SessionID())
	m.Leave("room-1", session.SessionID())
	m.Leave("room-1", "never-joined")

	assert.Equal(t, 0, m.SessionCount("room-1"))
}

func TestBroadcastLocal(t *testing.T) {
	m := NewManager(nil)
	a := newFakeSession("user-a")
	b := newFakeSession("user-b")
	c := newFakeSession("user-c")
	m.Join("room-1", a)
	m.Join("room-1", b)
	m.Join("room-1", c)

	delivered, _ := m.BroadcastLocal("room-1", testEvent("room-1"), "")

	assert.Equal(t, 3, delivered)
	assert.Equal(t, 1, a.deliveredCount())
	assert.Equal(t, 1, b.deliveredCount())
	assert.Equal(t, 1, c.deliveredCount())
}

func TestBroadcastLocalCountsRecipientSeparately(t *testing.T) {
	m := NewManager(nil)
	sender := newFakeSession("alice")
	recipientPhone := newFakeSession("bob")
	recipientLaptop := newFakeSession("bob")
	m.Join("room-1", sender)
	m.Join("room-1", recipientPhone)
	m.Join("room-1", recipientLaptop)

	event := domain.NewEvent(domain.EventTypeMessage, "bob", "alice", "room-1", json.RawMessage(`{}`))
	delivered, recipientDelivered := m.BroadcastLocal("room-1", event, sender.SessionID())

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, recipientDelivered)
}

func TestBroadcastLocalRecipientCountZeroWhenOnlyOthersPresent(t *testing.T) {
	m := NewManager(nil)
	senderPhone := newFakeSession("alice")
	senderTablet := newFakeSession("alice")
	m.Join("room-1", senderPhone)
	m.Join("room-1", senderTablet)

	// The recipient has no session here; deliveries to the sender's other
	// device must not count for the recipient.
	event := domain.NewEvent(domain.EventTypeMessage, "bob", "alice", "room-1", json.RawMessage(`{}`))
	delivered, recipientDelivered := m.BroadcastLocal("room-1", event, senderPhone.SessionID())

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, recipientDelivered)
}

func TestBroadcastLocalExcludesSender(t *testing.T) {
	m := NewManager(nil)
	sender := newFakeSession("user-a")
	peer := newFakeSession("user-b")
	m.Join("room-1", sender)
	m.Join("room-1", peer)

	delivered, _ := m.BroadcastLocal("room-1", testEvent("room-1"), sender.SessionID())

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, sender.deliveredCount())
	assert.Equal(t, 1, peer.deliveredCount())
}

func TestBroadcastLocalDropsSlowConsumer(t *testing.T) {
	var dropped []string
	m := NewManager(func(sessionID string) { dropped = append(dropped, sessionID) })

	healthy := newFakeSession("user-a")
	slow := newFakeSession("user-b")
	slow.slow = true
	m.Join("room-1", healthy)
	m.Join("room-1", slow)

	delivered, _ := m.BroadcastLocal("room-1", testEvent("room-1"), "")

	// The slow consumer is handed to the drop func and does not stall the rest.
	assert.Equal(t, 1, delivered)
	require.Equal(t, []string{slow.SessionID()}, dropped)
	assert.Equal(t, 1, healthy.deliveredCount())
}

func TestBroadcastLocalUnknownRoom(t *testing.T) {
	m := NewManager(nil)
	delivered, recipientDelivered := m.BroadcastLocal("nowhere", testEvent("nowhere"), "")
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, recipientDelivered)
}

func TestLeaveAll(t *testing.T) {
	m := NewManager(nil)
	session := newFakeSession("user-a")
	other := newFakeSession("user-b")
	m.Join("room-1", session)
	m.Join("room-2", session)
	m.Join("room-1", other)

	m.LeaveAll(session.SessionID())

	assert.Equal(t, 1, m.SessionCount("room-1"))
	assert.Equal(t, 0, m.SessionCount("room-2"))
	assert.Equal(t, []string{"user-b"}, m.Members("room-1"))
}

func TestMemberCountsWithMultipleDevices(t *testing.T) {
	m := NewManager(nil)
	phone := newFakeSession("user-a")
	laptop := newFakeSession("user-a")
	m.Join("room-1", phone)
	m.Join("room-1", laptop)

	assert.Equal(t, 2, m.SessionCount("room-1"))
	assert.Equal(t, []string{"user-a"}, m.Members("room-1"))

	// The user stays a member until the last device leaves.
	m.Leave("room-1", phone.SessionID())
	assert.Equal(t, []string{"user-a"}, m.Members("room-1"))

	m.Leave("room-1", laptop.SessionID())
	assert.Empty(t, m.Members("room-1"))
}
