package channels

import (
	"encoding/json"
	"sync"
)

// Member is a presence-channel participant: a unique user id plus an
// opaque JSON info payload. Info is kept as json.RawMessage end-to-end
// (never re-marshaled through an intermediate struct) so arbitrary
// nested user-info JSON survives byte-for-byte, per DESIGN.md's
// presence hash-fidelity decision.
type Member struct {
	UserID string
	Info   json.RawMessage
}

// Members is the ordered set of presence members tracked client-side on
// a presence channel, keyed by user id, plus the local participant's own
// id (spec.md §3).
type Members struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Member
	myID  string
}

func newMembers() *Members {
	return &Members{byID: make(map[string]Member)}
}

// Reset clears the table. Used on (re)subscribe and on disconnect.
func (m *Members) Reset() {
	m.mu.Lock()
	m.order = nil
	m.byID = make(map[string]Member)
	m.mu.Unlock()
}

// SetMyID records the local participant's user id, extracted from the
// subscribe auth response's channel_data.
func (m *Members) SetMyID(id string) {
	m.mu.Lock()
	m.myID = id
	m.mu.Unlock()
}

// MyID returns the local participant's user id.
func (m *Members) MyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.myID
}

// Add inserts or replaces a member. Adding an already-present user id is
// a no-op for ordering (its position is preserved) but refreshes Info.
func (m *Members) Add(member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[member.UserID]; !exists {
		m.order = append(m.order, member.UserID)
	}
	m.byID[member.UserID] = member
}

// AddIfAbsent inserts member only if no member with that user id is
// already tracked; it reports whether the insert happened. Used for
// incremental member_added events, which spec.md §4.3 defines as a
// no-op (including no Info refresh) when the user is already present.
func (m *Members) AddIfAbsent(member Member) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[member.UserID]; exists {
		return false
	}
	m.order = append(m.order, member.UserID)
	m.byID[member.UserID] = member
	return true
}

// Remove deletes a member by user id. A no-op if absent.
func (m *Members) Remove(userID string) (Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.byID[userID]
	if !ok {
		return Member{}, false
	}
	delete(m.byID, userID)
	for i, id := range m.order {
		if id == userID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return member, true
}

// Get looks up a member by user id.
func (m *Members) Get(userID string) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.byID[userID]
	return member, ok
}

// Count reports the number of tracked members.
func (m *Members) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Each calls fn for every member in insertion order. fn must not call
// back into Members.
func (m *Members) Each(fn func(Member)) {
	m.mu.RLock()
	ordered := make([]Member, 0, len(m.order))
	for _, id := range m.order {
		ordered = append(ordered, m.byID[id])
	}
	m.mu.RUnlock()
	for _, mem := range ordered {
		fn(mem)
	}
}
