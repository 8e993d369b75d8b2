package registry

import (
	"log/slog"
	"sync"
	"time"

	"lifeline/internal/models"

	"github.com/google/uuid"
)

// Registry owns every live connection, the session membership index, and the
// volunteer/professional availability pools. All mutation goes through its
// methods under one lock, so a membership change (admit, remove, reassign)
// is a single indivisible step over both indexes. The registry is
// authoritative only for locally-attached connections; cross-instance
// routing belongs to the pub/sub fabric.
type Registry struct {
	mu sync.Mutex

	conns    map[string]*models.Connection
	sessions map[string]map[string]struct{} // session id → member connection ids

	// Availability pools keep insertion order so matching stays
	// deterministic and ties resolve first-encountered-wins.
	volunteerOrder []string
	volunteers     map[string]*models.VolunteerProfile

	professionalOrder []string
	professionals     map[string]struct{}

	monitoring map[string]struct{} // connection ids subscribed to metrics pushes

	counters counters

	// responseObserver, when set, receives every match response time
	// observation in milliseconds. Metrics wiring hangs off this hook so
	// the registry stays free of Prometheus imports.
	responseObserver func(ms float64)

	logger *slog.Logger
}

// counters backs the metrics snapshot. Adjusted only through paired
// lifecycle methods and clamped at zero on decrement.
type counters struct {
	activeSessions      int
	volunteersOnline    int
	professionalsOnline int
	criticalSessions    int
	escalatedSessions   int
	avgResponseMs       float64
	responseSamples     int
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:         make(map[string]*models.Connection),
		sessions:      make(map[string]map[string]struct{}),
		volunteers:    make(map[string]*models.VolunteerProfile),
		professionals: make(map[string]struct{}),
		monitoring:    make(map[string]struct{}),
		logger:        logger,
	}
}

// SetResponseTimeObserver installs a callback invoked with each match
// response time in milliseconds. Pass nil to clear it.
func (r *Registry) SetResponseTimeObserver(fn func(ms float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responseObserver = fn
}

// Admit registers a new connection, assigns it an id if it has none, joins
// it to its session's member set (creating the set if absent), and bumps the
// role-specific online counter. A connection rejoining a session with live
// members inherits the session's current severity, so a reconnecting user or
// a joining responder never dilutes an escalating session back toward zero.
// Returns the connection id.
func (r *Registry) Admit(conn *models.Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.ConnID == "" {
		conn.ConnID = uuid.New().String()
	}
	now := time.Now()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LastActivity = now

	if sev := r.sessionSeverityLocked(conn.SessionID); sev > conn.Severity {
		conn.Severity = sev
	}

	r.conns[conn.ConnID] = conn
	r.joinSessionLocked(conn.ConnID, conn.SessionID)

	switch conn.Role {
	case models.RoleVolunteer:
		r.counters.volunteersOnline++
	case models.RoleProfessional:
		r.counters.professionalsOnline++
	}

	r.logger.Debug("connection admitted",
		"conn_id", conn.ConnID, "role", string(conn.Role),
		"session_id", conn.SessionID, "total", len(r.conns))
	return conn.ConnID
}

// UpdateActivity refreshes the last-activity timestamp. The health loop uses
// it to decide which connections need a liveness probe.
func (r *Registry) UpdateActivity(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.LastActivity = time.Now()
	}
}

// Remove tears a connection out of every index: the arena, its session's
// member set (deleting the set if now empty), the availability pools, and
// the monitoring group. Role counters decrement clamped at zero and the
// whole operation is idempotent, so a disconnect racing an explicit removal
// cannot drive counters negative. Remaining session members are told the
// participant disconnected.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	r.leaveSessionLocked(connID, conn.SessionID)

	switch conn.Role {
	case models.RoleVolunteer:
		r.counters.volunteersOnline = clamp(r.counters.volunteersOnline - 1)
		r.removeVolunteerLocked(connID)
	case models.RoleProfessional:
		r.counters.professionalsOnline = clamp(r.counters.professionalsOnline - 1)
		r.removeProfessionalLocked(connID)
	}
	delete(r.monitoring, connID)

	remaining := r.sessionMembersLocked(conn.SessionID)
	r.mu.Unlock()

	conn.MarkClosed()

	for _, member := range remaining {
		member.SafeSend(models.ServerEvent{
			Type:       models.EventParticipantDisconnected,
			SessionID:  conn.SessionID,
			SenderRole: conn.Role,
		})
	}

	r.logger.Debug("connection removed",
		"conn_id", connID, "role", string(conn.Role), "session_id", conn.SessionID)
}

// ReassignSession atomically moves a connection from its current session set
// to a new one. A connection never belongs to two sessions, even
// transiently, so a disconnect racing a transfer cannot orphan membership.
func (r *Registry) ReassignSession(connID, newSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	if conn.SessionID == newSessionID {
		return nil
	}

	r.leaveSessionLocked(connID, conn.SessionID)
	conn.SessionID = newSessionID
	r.joinSessionLocked(connID, newSessionID)
	return nil
}

// Get returns a connection by id.
func (r *Registry) Get(connID string) (*models.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SessionMembers returns the connections currently in a session.
func (r *Registry) SessionMembers(sessionID string) []*models.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionMembersLocked(sessionID)
}

// Broadcast fan-outs an event to every member of a session, optionally
// skipping one connection (usually the sender). Per-recipient ordering is
// the write-channel enqueue order.
func (r *Registry) Broadcast(sessionID string, ev models.ServerEvent, exceptConnID string) int {
	members := r.SessionMembers(sessionID)
	delivered := 0
	for _, m := range members {
		if m.ConnID == exceptConnID {
			continue
		}
		if m.SafeSend(ev) {
			delivered++
		}
	}
	return delivered
}

// IdleConnections returns connections with no activity for at least the
// given threshold.
func (r *Registry) IdleConnections(threshold time.Duration) []*models.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var idle []*models.Connection
	for _, conn := range r.conns {
		if conn.LastActivity.Before(cutoff) {
			idle = append(idle, conn)
		}
	}
	return idle
}

func (r *Registry) joinSessionLocked(connID, sessionID string) {
	if sessionID == "" {
		return
	}
	set, ok := r.sessions[sessionID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[sessionID] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) leaveSessionLocked(connID, sessionID string) {
	if sessionID == "" {
		return
	}
	set, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.sessions, sessionID)
	}
}

func (r *Registry) sessionMembersLocked(sessionID string) []*models.Connection {
	set, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	members := make([]*models.Connection, 0, len(set))
	for id := range set {
		if conn, ok := r.conns[id]; ok {
			members = append(members, conn)
		}
	}
	return members
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
