package registry

import (
	"lifeline/internal/models"
)

// Session lifecycle counter pairs. The coordinator calls these on state
// transitions; nothing sets a counter directly.

// SessionOpened increments the active-session count.
func (r *Registry) SessionOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.activeSessions++
}

// SessionClosed decrements the active count plus whichever severity counters
// the session was holding when it ended.
func (r *Registry) SessionClosed(wasCritical, wasEscalated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.activeSessions = clamp(r.counters.activeSessions - 1)
	if wasCritical {
		r.counters.criticalSessions = clamp(r.counters.criticalSessions - 1)
	}
	if wasEscalated {
		r.counters.escalatedSessions = clamp(r.counters.escalatedSessions - 1)
	}
}

// SessionBecameCritical records a session crossing the critical threshold.
func (r *Registry) SessionBecameCritical() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.criticalSessions++
}

// SessionEscalated records entry into the ESCALATED state.
func (r *Registry) SessionEscalated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.escalatedSessions++
}

// EscalationHandled records an ESCALATED session returning to ACTIVE.
func (r *Registry) EscalationHandled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.escalatedSessions = clamp(r.counters.escalatedSessions - 1)
}

// ObserveResponseTime folds a match response time (milliseconds) into the
// exponentially weighted moving average exposed in the snapshot, then hands
// the raw sample to the installed observer.
func (r *Registry) ObserveResponseTime(ms float64) {
	r.mu.Lock()
	if r.counters.responseSamples == 0 {
		r.counters.avgResponseMs = ms
	} else {
		const alpha = 0.2
		r.counters.avgResponseMs = alpha*ms + (1-alpha)*r.counters.avgResponseMs
	}
	r.counters.responseSamples++
	observer := r.responseObserver
	r.mu.Unlock()

	if observer != nil {
		observer(ms)
	}
}

// Snapshot returns the current process-wide counter values.
func (r *Registry) Snapshot() models.MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.MetricsSnapshot{
		ActiveSessions:      r.counters.activeSessions,
		VolunteersOnline:    r.counters.volunteersOnline,
		ProfessionalsOnline: r.counters.professionalsOnline,
		AvgResponseMs:       r.counters.avgResponseMs,
		CriticalSessions:    r.counters.criticalSessions,
		EscalatedSessions:   r.counters.escalatedSessions,
	}
}
