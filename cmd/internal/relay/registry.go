package relay

import (
	"sort"
	"sync"
)

// Registry maps user ids to their live connections.
//
// Concurrency guarantees:
// - Admit/Remove are mutually exclusive.
// - MembersOf snapshots may run concurrently with each other.
// - No lock is held while callers act on a snapshot.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Conn
	conns  int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]*Conn)}
}

// Admit adds c to userID's group and moves it to the Admitted state.
//
// Admitting the same connection twice is a no-op (added=false). A connection that
// already disconnected is refused so the group never holds a dead entry.
func (r *Registry) Admit(userID string, c *Conn) (added bool, err error) {
	if c == nil {
		return false, ErrNilConnection
	}
	if userID == "" {
		return false, ErrEmptyUser
	}
	if c.UserID != userID {
		return false, ErrUserMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.groups[userID]
	if _, ok := group[c.ID]; ok {
		return false, nil
	}
	// Under the lock so a concurrent Remove cannot observe a half-admitted conn.
	if !c.markAdmitted() {
		return false, ErrConnClosed
	}

	if group == nil {
		group = make(map[string]*Conn)
		r.groups[userID] = group
	}
	group[c.ID] = c
	r.conns++
	return true, nil
}

// Remove deletes c from userID's group and prunes the group when it empties.
// Removing an absent connection is a no-op (removed=false).
func (r *Registry) Remove(userID string, c *Conn) (removed bool) {
	if c == nil || userID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.groups[userID]
	if group[c.ID] != c {
		return false
	}
	delete(group, c.ID)
	r.conns--
	if len(group) == 0 {
		delete(r.groups, userID)
	}
	return true
}

// MembersOf returns a snapshot of userID's live connections, oldest first.
func (r *Registry) MembersOf(userID string) []*Conn {
	r.mu.RLock()
	group := r.groups[userID]
	out := make([]*Conn, 0, len(group))
	for _, c := range group {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortConns(out)
	return out
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	out := make([]*Conn, 0, r.conns)
	for _, group := range r.groups {
		for _, c := range group {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sortConns(out)
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns
}

// Users returns the number of non-empty user groups.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// ULIDs sort by creation time.
func sortConns(cs []*Conn) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
