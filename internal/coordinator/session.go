package coordinator

import (
	"sync"
	"time"

	"lifeline/internal/models"
)

// Session is one crisis conversation. It exists independently of any single
// connection: a reconnect rejoins the same session id and finds its severity
// and escalation state intact. The per-session mutex serializes lifecycle
// transitions so racing escalates or a disconnect racing a transfer cannot
// lose updates.
type Session struct {
	ID string

	mu                 sync.Mutex
	state              models.SessionState
	severity           int
	createdAt          time.Time
	criteria           models.MatchCriteria
	volunteerConnID    string
	professionalConnID string
	escalations        int
	critical           bool // crossed the critical threshold at least once
}

func newSession(id string, severity int, criteria models.MatchCriteria) *Session {
	return &Session{
		ID:        id,
		state:     models.SessionWaiting,
		severity:  severity,
		createdAt: time.Now(),
		criteria:  criteria,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Severity returns the current session severity.
func (s *Session) Severity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.severity
}

func (s *Session) setVolunteer(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volunteerConnID = connID
	if s.state == models.SessionWaiting {
		s.state = models.SessionMatched
	}
}

// swapVolunteer installs a new volunteer and returns the previous one's
// connection id (empty if the session had none).
func (s *Session) swapVolunteer(connID string) (old string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.volunteerConnID
	s.volunteerConnID = connID
	if s.state == models.SessionWaiting {
		s.state = models.SessionMatched
	}
	return old
}

func (s *Session) volunteer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volunteerConnID
}

func (s *Session) setProfessional(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.professionalConnID = connID
}

func (s *Session) professional() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.professionalConnID
}

// markActive moves a matched session into ACTIVE on the first relayed
// message. No-op in any other state.
func (s *Session) markActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.SessionMatched || s.state == models.SessionWaiting {
		s.state = models.SessionActive
	}
}

func (s *Session) markCritical() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.critical = true
}

// exclude adds a connection id to the session's match exclusion set.
func (s *Session) exclude(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria.Exclude[connID] = struct{}{}
}

// criteriaWithExclusions copies the session criteria, merging in extra
// exclusions without mutating the original set.
func (s *Session) criteriaWithExclusions(extra map[string]struct{}) models.MatchCriteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make(map[string]struct{}, len(s.criteria.Exclude)+len(extra))
	for id := range s.criteria.Exclude {
		merged[id] = struct{}{}
	}
	for id := range extra {
		merged[id] = struct{}{}
	}
	return models.MatchCriteria{
		Languages:       s.criteria.Languages,
		Specializations: s.criteria.Specializations,
		Exclude:         merged,
	}
}

// applyEscalation raises severity by delta (capped at 10) and moves the
// session into ESCALATED. Both deltas of two racing escalates land; only the
// cap limits the result. Returns the new severity, whether this call crossed
// the critical threshold, and whether this call is the one that transitioned
// the session into ESCALATED — decided under the session lock so two racing
// escalates can never both claim the transition.
func (s *Session) applyEscalation(delta, criticalThreshold int) (newSeverity int, crossedCritical, becameEscalated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return s.severity, false, false, ErrSessionResolved
	}

	before := s.severity
	s.severity += delta
	if s.severity > 10 {
		s.severity = 10
	}
	s.escalations++

	if s.state != models.SessionEscalated {
		s.state = models.SessionEscalated
		becameEscalated = true
	}

	crossed := before < criticalThreshold && s.severity >= criticalThreshold
	if crossed {
		s.critical = true
	}
	return s.severity, crossed, becameEscalated, nil
}

// resolveEscalation returns a handled ESCALATED session to ACTIVE. Reports
// whether a transition happened.
func (s *Session) resolveEscalation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SessionEscalated {
		return false
	}
	s.state = models.SessionActive
	return true
}

// close marks the session RESOLVED and reports its duration plus which
// counters it was holding. Idempotent: a second close reports done=false.
func (s *Session) close() (duration time.Duration, wasCritical, wasEscalated bool, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return 0, false, false, false
	}
	wasEscalated = s.state == models.SessionEscalated
	s.state = models.SessionResolved
	return time.Since(s.createdAt), s.critical, wasEscalated, true
}
