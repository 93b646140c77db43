package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// Conn is a live connection the registry can address.
type Conn interface {
	ID() string
	Send(v any) error
	Close()
}

// Session is one registered connection.
type Session struct {
	Conn        Conn
	UserID      string
	DeviceType  string
	ConnectedAt time.Time
}

// Info returns the serialisable view of the session.
func (s Session) Info() domain.SessionInfo {
	return domain.SessionInfo{
		SessionID:   s.Conn.ID(),
		UserID:      s.UserID,
		DeviceType:  s.DeviceType,
		ConnectedAt: s.ConnectedAt,
	}
}

// Registry maps users to their live sessions. The forward map and the reverse
// index are only ever changed together under mu, so a reader never sees a
// handle in one and not the other. A user with no sessions has no entry.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]*Session // userID -> handleID -> session
	owners map[string]string              // handleID -> userID
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]map[string]*Session),
		owners: make(map[string]string),
		now:    time.Now,
	}
}

// Register adds conn under userID. Registering the same handle again only
// refreshes its device type. A handle owned by another user is moved.
func (r *Registry) Register(userID string, conn Conn, deviceType string) Session {
	handle := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[handle]; ok {
		if prev == userID {
			if s, ok := r.users[userID][handle]; ok {
				s.DeviceType = deviceType
				return *s
			}
			r.healLocked(handle, prev)
		} else {
			r.removeLocked(handle, prev)
			l := log.L()
			l.Debug().
				Str(log.FieldSessionID, handle).
				Str("previous_user_id", prev).
				Str(log.FieldUserID, userID).
				Msg("session re-registered under another user")
		}
	}

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]*Session)
		r.users[userID] = set
	}
	s := &Session{Conn: conn, UserID: userID, DeviceType: deviceType, ConnectedAt: r.now()}
	set[handle] = s
	r.owners[handle] = userID

	return *s
}

// Unregister removes a handle and returns the user that owned it. A handle
// that is already gone is not an error.
func (r *Registry) Unregister(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[handle]
	if !ok {
		return "", false
	}
	if _, ok := r.users[userID][handle]; !ok {
		r.healLocked(handle, userID)
		return userID, true
	}
	r.removeLocked(handle, userID)
	return userID, true
}

// removeLocked deletes handle from both maps and drops the user once empty.
func (r *Registry) removeLocked(handle, userID string) {
	delete(r.owners, handle)
	set := r.users[userID]
	delete(set, handle)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// healLocked drops a reverse entry whose forward entry is missing.
func (r *Registry) healLocked(handle, userID string) {
	l := log.L()
	l.Warn().
		Err(domain.ErrPresenceInconsistency).
		Str(log.FieldSessionID, handle).
		Str(log.FieldUserID, userID).
		Msg("removing orphaned session handle")
	delete(r.owners, handle)
	if set, ok := r.users[userID]; ok && len(set) == 0 {
		delete(r.users, userID)
	}
}

// SessionsFor returns a point-in-time copy of userID's sessions, oldest first.
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	set := r.users[userID]
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].Conn.ID() < out[j].Conn.ID()
	})
	return out
}

// OwnerOf returns the user owning handle.
func (r *Registry) OwnerOf(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[handle]
	return userID, ok
}

// IsOnline reports whether userID has at least one session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Stats returns the number of online users and live sessions.
func (r *Registry) Stats() (users, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.owners)
}

// Clear forgets every session. Connections are not closed.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.users = make(map[string]map[string]*Session)
	r.owners = make(map[string]string)
	r.mu.Unlock()
}
