package websocket

import (
	"sync"

	"vibepie/internal/metrics"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// Registry tracks the single master, the viewer set and the mobile
// connections grouped by session.
// ARCHITECTURAL DISCOVERY: Pure connection bookkeeping without business logic;
// the hub decides who may become master, the registry only enforces that
// there is at most one.
type Registry struct {
	mu      sync.RWMutex
	master  interfaces.Connection
	viewers map[string]interfaces.Connection            // connID -> conn
	mobiles map[string]map[string]interfaces.Connection // sessionID -> connID -> conn
}

// RegistryStats is a point-in-time count per role.
type RegistryStats struct {
	Master  bool `json:"master"`
	Viewers int  `json:"viewers"`
	Mobiles int  `json:"mobiles"`
}

func NewRegistry() *Registry {
	return &Registry{
		viewers: make(map[string]interfaces.Connection),
		mobiles: make(map[string]map[string]interfaces.Connection),
	}
}

// SetMaster installs conn as the master and returns the evicted previous
// master, if any. The caller closes the previous connection outside the lock.
func (r *Registry) SetMaster(conn interfaces.Connection) (interfaces.Connection, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	conn.SetRole(types.RoleMaster)

	r.mu.Lock()
	previous := r.master
	r.master = conn
	r.mu.Unlock()

	if previous == conn {
		previous = nil
	}
	r.publish()
	return previous, nil
}

func (r *Registry) AddViewer(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	conn.SetRole(types.RoleViewer)

	r.mu.Lock()
	r.viewers[conn.GetID()] = conn
	r.mu.Unlock()

	r.publish()
	return nil
}

func (r *Registry) AddMobile(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	conn.SetRole(types.RoleMobile)
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	if r.mobiles[sessionID] == nil {
		r.mobiles[sessionID] = make(map[string]interfaces.Connection)
	}
	r.mobiles[sessionID][conn.GetID()] = conn
	r.mu.Unlock()

	r.publish()
	return nil
}

// Remove drops conn from whichever set holds it and returns the role it was
// registered under. A master that has already been replaced is not removed
// again, so an evicted master's late disconnect cannot clear its successor.
// RACE CONDITION FIX: identity comparison, not role comparison
func (r *Registry) Remove(conn interfaces.Connection) (string, bool) {
	if conn == nil {
		return "", false
	}

	r.mu.Lock()
	role, removed := r.removeLocked(conn)
	r.mu.Unlock()

	if removed {
		r.publish()
	}
	return role, removed
}

func (r *Registry) removeLocked(conn interfaces.Connection) (string, bool) {
	if r.master == conn {
		r.master = nil
		return types.RoleMaster, true
	}

	id := conn.GetID()
	if existing, ok := r.viewers[id]; ok && existing == conn {
		delete(r.viewers, id)
		return types.RoleViewer, true
	}

	sessionID := conn.GetSessionID()
	if conns, ok := r.mobiles[sessionID]; ok {
		if existing, ok := conns[id]; ok && existing == conn {
			delete(conns, id)
			if len(conns) == 0 {
				delete(r.mobiles, sessionID)
			}
			return types.RoleMobile, true
		}
	}
	return "", false
}

// Master returns the current master if it is still open.
func (r *Registry) Master() (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.master == nil || !r.master.IsOpen() {
		return nil, false
	}
	return r.master, true
}

func (r *Registry) IsMaster(conn interfaces.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return conn != nil && r.master == conn
}

func (r *Registry) Viewers() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.viewers))
	for _, conn := range r.viewers {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) Mobiles() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []interfaces.Connection
	for _, conns := range r.mobiles {
		for _, conn := range conns {
			out = append(out, conn)
		}
	}
	return out
}

// Screens returns the master (if any) followed by every viewer.
func (r *Registry) Screens() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Connection, 0, len(r.viewers)+1)
	if r.master != nil {
		out = append(out, r.master)
	}
	for _, conn := range r.viewers {
		out = append(out, conn)
	}
	return out
}

// MobilesBySession returns every open mobile connection of sessionID.
func (r *Registry) MobilesBySession(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.mobiles[sessionID]
	out := make([]interfaces.Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// HasMobileSession reports whether any mobile connection of sessionID is
// still registered.
func (r *Registry) HasMobileSession(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mobiles[sessionID]) > 0
}

func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mobiles := 0
	for _, conns := range r.mobiles {
		mobiles += len(conns)
	}
	return RegistryStats{
		Master:  r.master != nil,
		Viewers: len(r.viewers),
		Mobiles: mobiles,
	}
}

func (r *Registry) publish() {
	stats := r.GetStats()
	master := 0.0
	if stats.Master {
		master = 1
	}
	metrics.Connections.WithLabelValues(types.RoleMaster).Set(master)
	metrics.Connections.WithLabelValues(types.RoleViewer).Set(float64(stats.Viewers))
	metrics.Connections.WithLabelValues(types.RoleMobile).Set(float64(stats.Mobiles))
}
