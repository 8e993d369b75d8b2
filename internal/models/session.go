package models

// SessionState is the lifecycle position of a crisis session.
//
//	WAITING → MATCHED → ACTIVE → ESCALATED → RESOLVED
//
// ESCALATED is reachable from any non-terminal state and returns to ACTIVE
// once handled; RESOLVED is terminal.
type SessionState string

const (
	SessionWaiting   SessionState = "waiting"
	SessionMatched   SessionState = "matched"
	SessionActive    SessionState = "active"
	SessionEscalated SessionState = "escalated"
	SessionResolved  SessionState = "resolved"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionState) Terminal() bool {
	return s == SessionResolved
}

// SessionOutcome summarizes how a session ended, broadcast with the closure
// event and handed to the persistence collaborator.
type SessionOutcome string

const (
	OutcomeResolved    SessionOutcome = "resolved"
	OutcomeReferred    SessionOutcome = "referred"
	OutcomeEmergency   SessionOutcome = "emergency_dispatch"
	OutcomeAbandoned   SessionOutcome = "abandoned"
	OutcomeUnspecified SessionOutcome = "unspecified"
)
