// Package realtime provides components for managing live client connections
// and the relay's in-process subscription state.
package realtime

import (
	"sync"
	"time"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// entry is a registered connection plus the metadata captured at register
// time.
type entry struct {
	conn        relay.Conn
	deviceToken string
	connectedAt int64
}

// Registry maps user identifiers to their live connection. It implements
// relay.Registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts or overwrites the entry for userID. A reconnect replaces
// the stale entry wholesale.
func (r *Registry) Register(userID string, conn relay.Conn, deviceToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[userID] = entry{
		conn:        conn,
		deviceToken: deviceToken,
		connectedAt: time.Now().Unix(),
	}
}

// Unregister removes the entry for userID. Tolerant of double-removal.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (relay.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Connections returns a snapshot of every live connection's metadata,
// keyed by user id.
func (r *Registry) Connections() map[string]relay.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]relay.ConnectionInfo, len(r.entries))
	for userID, e := range r.entries {
		out[userID] = relay.ConnectionInfo{
			ConnectedAt: e.connectedAt,
			DeviceToken: e.deviceToken,
		}
	}
	return out
}

// MembershipIndex maps conversation identifiers to the set of user
// identifiers subscribed for live updates. It implements
// relay.MembershipIndex.
//
// Entries are sticky for the process lifetime: a disconnect removes the
// user from the Registry but not from any member set. Broadcast targeting
// simply misses the registry lookup for such users.
type MembershipIndex struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewMembershipIndex creates an empty membership index.
func NewMembershipIndex() *MembershipIndex {
	return &MembershipIndex{members: make(map[string]map[string]struct{})}
}

// Subscribe adds userID to the conversation's member set. Idempotent.
func (m *MembershipIndex) Subscribe(conversationID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[conversationID]
	if !ok {
		set = make(map[string]struct{})
		m.members[conversationID] = set
	}
	set[userID] = struct{}{}
}

// Replace swaps the conversation's member set for the given user list.
func (m *MembershipIndex) Replace(conversationID string, userIDs []string) {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[conversationID] = set
}

// MembersOf returns a copy of the conversation's member set, empty if the
// conversation is unknown.
func (m *MembershipIndex) MembersOf(conversationID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.members[conversationID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
