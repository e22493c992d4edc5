// Package registry tracks every live real-time connection of the coordinator.
package registry

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Connection is one registered real-time channel
type Connection struct {
	ID          string
	Role        string
	UserID      string
	UserName    string
	ExamID      string
	SessionID   string
	Peer        interfaces.Peer
	State       types.ConnectionState
	ConnectedAt time.Time
	LastSeenAt  time.Time
	ProbeSentAt time.Time
}

// RemoveHook is called after a connection leaves the registry
type RemoveHook func(conn *Connection)

// Registry manages registered connections keyed by connection ID
// ARCHITECTURAL DISCOVERY: The registry is owned by the hub event loop and is not
// safe for concurrent use; every mutation happens on that single goroutine
type Registry struct {
	connections map[string]*Connection            // connectionID -> Connection
	byRole      map[string]map[string]*Connection // role -> connectionID -> Connection
	byPeer      map[interfaces.Peer]string        // transport handle -> connectionID
	removeHooks []RemoveHook
	now         func() time.Time
	newID       func() string
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		connections: make(map[string]*Connection),
		byRole: map[string]map[string]*Connection{
			types.RoleStudent: make(map[string]*Connection),
			types.RoleAdmin:   make(map[string]*Connection),
		},
		byPeer: make(map[interfaces.Peer]string),
		now:    now,
		newID:  uuid.NewString,
	}
}

// OnRemove adds a hook run by Unregister
func (r *Registry) OnRemove(hook RemoveHook) {
	r.removeHooks = append(r.removeHooks, hook)
}

// Register allocates a connection ID and stores the connection as active
// FUNCTIONAL DISCOVERY: IDs are random 128-bit UUIDs and are never reused;
// a reconnecting client always gets a new one
func (r *Registry) Register(role, userID string, peer interfaces.Peer) (*Connection, error) {
	if !types.IsValidRole(role) {
		return nil, types.ErrInvalidRole
	}
	if peer == nil {
		return nil, ErrNilPeer
	}
	if _, exists := r.byPeer[peer]; exists {
		return nil, ErrPeerAlreadyRegistered
	}

	id := r.newID()
	for {
		if _, taken := r.connections[id]; !taken {
			break
		}
		id = r.newID()
	}

	now := r.now()
	conn := &Connection{
		ID:          id,
		Role:        role,
		UserID:      userID,
		Peer:        peer,
		State:       types.StateActive,
		ConnectedAt: now,
		LastSeenAt:  now,
	}

	r.connections[id] = conn
	r.byRole[role][id] = conn
	r.byPeer[peer] = id
	return conn, nil
}

// Touch records inbound activity. Unknown IDs are ignored since a message
// can race with the connection's removal.
func (r *Registry) Touch(connectionID string) {
	conn, exists := r.connections[connectionID]
	if !exists {
		return
	}
	conn.LastSeenAt = r.now()
	conn.State = types.StateActive
	conn.ProbeSentAt = time.Time{}
}

// Unregister removes a connection and runs the remove hooks.
// Idempotent: returns false if the connection was already gone.
func (r *Registry) Unregister(connectionID string) (*Connection, bool) {
	conn, exists := r.connections[connectionID]
	if !exists {
		return nil, false
	}

	delete(r.connections, connectionID)
	delete(r.byRole[conn.Role], connectionID)
	if r.byPeer[conn.Peer] == connectionID {
		delete(r.byPeer, conn.Peer)
	}
	conn.State = types.StateTerminated

	for _, hook := range r.removeHooks {
		hook(conn)
	}
	return conn, true
}

// Get returns a connection by ID
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	conn, exists := r.connections[connectionID]
	return conn, exists
}

// LookupPeer resolves a transport handle to its registered connection
func (r *Registry) LookupPeer(peer interfaces.Peer) (*Connection, bool) {
	id, exists := r.byPeer[peer]
	if !exists {
		return nil, false
	}
	return r.Get(id)
}

// ListByRole returns the connections registered with role, oldest first
func (r *Registry) ListByRole(role string) []*Connection {
	conns := make([]*Connection, 0, len(r.byRole[role]))
	for _, conn := range r.byRole[role] {
		conns = append(conns, conn)
	}
	sortByAge(conns)
	return conns
}

// All returns every registered connection, oldest first
func (r *Registry) All() []*Connection {
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	sortByAge(conns)
	return conns
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	return len(r.connections)
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	stats := map[string]int{
		"total_connections":   len(r.connections),
		"student_connections": len(r.byRole[types.RoleStudent]),
		"admin_connections":   len(r.byRole[types.RoleAdmin]),
		"stale_connections":   0,
	}
	for _, conn := range r.connections {
		if conn.State == types.StateStale {
			stats["stale_connections"]++
		}
	}
	return stats
}

func sortByAge(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
}
