package registry

import (
	"lifeline/internal/models"
)

// UpdateSeverity sets a connection's crisis severity (clamped to 0-10) and
// emergency flag. Connection attributes are mutated only here so writes stay
// serialized with membership changes.
func (r *Registry) UpdateSeverity(connID string, severity int, emergency bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	if severity < 0 {
		severity = 0
	}
	if severity > 10 {
		severity = 10
	}
	conn.Severity = severity
	conn.Emergency = emergency
}

// UpdateLocation records a participant's latest geolocation.
func (r *Registry) UpdateLocation(connID string, loc *models.GeoLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.Location = loc
	}
}

// SessionSeverity derives a session's current severity from its
// highest-severity member.
func (r *Registry) SessionSeverity(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionSeverityLocked(sessionID)
}

func (r *Registry) sessionSeverityLocked(sessionID string) int {
	max := 0
	for id := range r.sessions[sessionID] {
		if conn, ok := r.conns[id]; ok && conn.Severity > max {
			max = conn.Severity
		}
	}
	return max
}
