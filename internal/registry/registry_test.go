package registry

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

// fakeSession is an in-memory domain.Session for registry tests.
type fakeSession struct {
	id          string
	userID      string
	connectedAt time.Time

	mu        sync.Mutex
	delivered [][]byte
	closed    bool
	failNext  bool
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{
		id:          uuid.New().String(),
		userID:      userID,
		connectedAt: time.Now(),
	}
}

func (f *fakeSession) SessionID() string      { return f.id }
func (f *fakeSession) UserID() string         { return f.userID }
func (f *fakeSession) ConnectedAt() time.Time { return f.connectedAt }

func (f *fakeSession) Deliver(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
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

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterAndUnregister(t *testing.T) {
	reg := New("instance-1")
	session := newFakeSession("user-a")

	id := reg.Register(session)
	assert.Equal(t, session.SessionID(), id)
	assert.True(t, reg.IsOnline("user-a"))
	require.Len(t, reg.SessionsFor("user-a"), 1)

	reg.Unregister(id)
	assert.False(t, reg.IsOnline("user-a"))
	assert.Empty(t, reg.SessionsFor("user-a"))
}

func TestUnregisterIdempotent(t *testing.T) {
	reg := New("instance-1")
	session := newFakeSession("user-a")
	id := reg.Register(session)

	reg.Unregister(id)
	reg.Unregister(id)
	reg.Unregister("never-registered")

	assert.False(t, reg.IsOnline("user-a"))
}

func TestMultipleSessionsPerUser(t *testing.T) {
	reg := New("instance-1")
	phone := newFakeSession("user-a")
	laptop := newFakeSession("user-a")

	reg.Register(phone)
	reg.Register(laptop)
	assert.Len(t, reg.SessionsFor("user-a"), 2)

	// Dropping one device keeps the user online.
	reg.Unregister(phone.SessionID())
	assert.True(t, reg.IsOnline("user-a"))
	assert.Len(t, reg.SessionsFor("user-a"), 1)
}

func TestOnlineHookFiresOnFirstSessionOnly(t *testing.T) {
	reg := New("instance-1")

	var hookCalls []string
	reg.SetOnlineHook(func(userID string, _ domain.Session) {
		hookCalls = append(hookCalls, userID)
	})

	first := newFakeSession("user-a")
	second := newFakeSession("user-a")

	reg.Register(first)
	reg.Register(second)
	require.Equal(t, []string{"user-a"}, hookCalls)

	// Offline then online again retriggers the hook.
	reg.Unregister(first.SessionID())
	reg.Unregister(second.SessionID())
	reg.Register(newFakeSession("user-a"))
	assert.Equal(t, []string{"user-a", "user-a"}, hookCalls)
}

func TestDropClosesSession(t *testing.T) {
	reg := New("instance-1")
	session := newFakeSession("user-a")
	id := reg.Register(session)

	reg.Drop(id)

	assert.True(t, session.isClosed())
	assert.False(t, reg.IsOnline("user-a"))

	// Dropping again is harmless.
	reg.Drop(id)
}

func TestSessionsForReturnsSnapshot(t *testing.T) {
	reg := New("instance-1")
	session := newFakeSession("user-a")
	reg.Register(session)

	snapshot := reg.SessionsFor("user-a")
	reg.Unregister(session.SessionID())

	// The snapshot is unaffected by the later unregister.
	require.Len(t, snapshot, 1)
	assert.Equal(t, session.SessionID(), snapshot[0].SessionID())
}

func TestCloseAll(t *testing.T) {
	reg := New("instance-1")
	a := newFakeSession("user-a")
	b := newFakeSession("user-b")
	reg.Register(a)
	reg.Register(b)

	reg.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, reg.IsOnline("user-a"))
	assert.False(t, reg.IsOnline("user-b"))
}
