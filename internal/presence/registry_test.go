package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) Send(any) error { return nil }
func (c *fakeConn) Close()         {}

func handles(sessions []Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Conn.ID())
	}
	return out
}

// assertConsistent checks that the forward map and reverse index agree.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for userID, set := range r.users {
		assert.NotEmpty(t, set, "user %s has an empty set", userID)
		for handle := range set {
			assert.Equal(t, userID, r.owners[handle])
			count++
		}
	}
	assert.Equal(t, count, len(r.owners))
}

func TestRegistry_RoundTrip(t *testing.T) {
	r := NewRegistry()
	s1, s2 := &fakeConn{id: "s1"}, &fakeConn{id: "s2"}

	r.Register("u", s1, "web")
	r.Register("u", s2, "mobile")
	assert.ElementsMatch(t, []string{"s1", "s2"}, handles(r.SessionsFor("u")))

	owner, ok := r.Unregister("s1")
	require.True(t, ok)
	assert.Equal(t, "u", owner)
	assert.Equal(t, []string{"s2"}, handles(r.SessionsFor("u")))

	_, ok = r.Unregister("s2")
	require.True(t, ok)
	assert.Empty(t, r.SessionsFor("u"))
	assert.False(t, r.IsOnline("u"))

	r.mu.RLock()
	_, present := r.users["u"]
	r.mu.RUnlock()
	assert.False(t, present, "empty user entry must be removed")
	assertConsistent(t, r)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "s1"}

	first := r.Register("u", c, "web")
	second := r.Register("u", c, "mobile")

	sessions := r.SessionsFor("u")
	require.Len(t, sessions, 1)
	assert.Equal(t, "mobile", sessions[0].DeviceType)
	assert.Equal(t, first.ConnectedAt, second.ConnectedAt)
}

func TestRegistry_HandleMovesBetweenUsers(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "s1"}

	r.Register("alice", c, "web")
	r.Register("bob", c, "web")

	assert.Empty(t, r.SessionsFor("alice"))
	assert.Equal(t, []string{"s1"}, handles(r.SessionsFor("bob")))
	owner, ok := r.OwnerOf("s1")
	require.True(t, ok)
	assert.Equal(t, "bob", owner)
	assertConsistent(t, r)
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Unregister("ghost")
	assert.False(t, ok)
	_, ok = r.OwnerOf("ghost")
	assert.False(t, ok)
}

func TestRegistry_SelfHealsOrphanedHandle(t *testing.T) {
	r := NewRegistry()
	r.Register("u", &fakeConn{id: "s1"}, "web")

	// Corrupt the forward map directly.
	r.mu.Lock()
	delete(r.users["u"], "s1")
	r.mu.Unlock()

	owner, ok := r.Unregister("s1")
	assert.True(t, ok)
	assert.Equal(t, "u", owner)
	_, ok = r.OwnerOf("s1")
	assert.False(t, ok)
	assertConsistent(t, r)
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	r.Register("u", &fakeConn{id: "s1"}, "web")

	snap := r.SessionsFor("u")
	r.Register("u", &fakeConn{id: "s2"}, "web")
	assert.Len(t, snap, 1)
}

func TestRegistry_SessionsOrderedByConnectTime(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	r.Register("u", &fakeConn{id: "z"}, "web")
	r.Register("u", &fakeConn{id: "a"}, "web")
	assert.Equal(t, []string{"z", "a"}, handles(r.SessionsFor("u")))
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	const users, perUser = 20, 10

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for s := 0; s < perUser; s++ {
			wg.Add(1)
			go func(u, s int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", u)
				c := &fakeConn{id: fmt.Sprintf("%s-s%d", userID, s)}
				r.Register(userID, c, "web")
				_ = r.SessionsFor(userID)
				if s%2 == 0 {
					r.Unregister(c.ID())
				}
			}(u, s)
		}
	}
	wg.Wait()

	onlineUsers, sessions := r.Stats()
	assert.Equal(t, users, onlineUsers)
	assert.Equal(t, users*perUser/2, sessions)
	assertConsistent(t, r)

	r.Clear()
	onlineUsers, sessions = r.Stats()
	assert.Zero(t, onlineUsers)
	assert.Zero(t, sessions)
}
