package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lifeline/internal/models"
	"lifeline/internal/recovery"
	"lifeline/internal/registry"

	"github.com/google/uuid"
)

// Estimated response times returned with a match, in seconds.
const (
	estimatedResponseImmediate = 30
	estimatedResponseScheduled = 300
)

// Publisher pushes session events onto the cross-instance pub/sub fabric so
// a broadcast reaches members attached to other processes. Delivery is
// at-least-once with no cross-instance ordering guarantee.
type Publisher interface {
	PublishSession(ctx context.Context, sessionID string, ev models.ServerEvent) error
}

// Notifier hands emergency data off to the dispatch collaborator.
// Fire-and-forget: it returns per-contact delivery status and must dedup
// repeated handoffs for the same session itself.
type Notifier interface {
	NotifyEmergencyServices(ctx context.Context, sessionID string, severity int, location *models.GeoLocation) []models.DeliveryStatus
}

// Config carries the coordinator's tunables.
type Config struct {
	MaxMessageLength  int // inbound message size cap; oversized messages are rejected, never truncated
	CriticalThreshold int // severity at or above which emergency dispatch is notified
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 2000
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 9
	}
	return c
}

// Coordinator owns the business logic of crisis sessions: starting,
// messaging, escalating, transferring, and ending. Pure in-memory state
// transitions happen once, up front; the side-effecting fan-out of every
// operation runs through the recovery engine at a tier proportional to how
// life-critical the operation is.
type Coordinator struct {
	registry  *registry.Registry
	engine    *recovery.Engine
	publisher Publisher // nil in single-instance deployments
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New wires a coordinator. publisher and notifier may be nil.
func New(reg *registry.Registry, engine *recovery.Engine, publisher Publisher, notifier Notifier, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:  reg,
		engine:    engine,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// StartResult is the answer to crisis:start.
type StartResult struct {
	SessionID            string                  `json:"session_id"`
	State                models.SessionState     `json:"state"`
	Severity             int                     `json:"severity"`
	Volunteer            *models.VolunteerPublic `json:"volunteer"` // null when no volunteer was found
	EstimatedResponseSec int                     `json:"estimated_response_seconds,omitempty"`
	ProfessionalAssigned bool                    `json:"professional_assigned"`
	Rejoined             bool                    `json:"rejoined,omitempty"`
	Bypass               *recovery.BypassPayload `json:"emergency,omitempty"`
}

// StartSession creates (or rejoins) a crisis session for the user, computes
// a volunteer match, and — when severity is critical or no volunteer is
// found — immediately attempts professional escalation as well. Succeeds
// with a null volunteer rather than failing when the pool is empty.
func (c *Coordinator) StartSession(userConn *models.Connection, severity int, criteria models.MatchCriteria) (*StartResult, error) {
	if severity < 0 || severity > 10 {
		return nil, &ValidationError{Field: "severity", Reason: fmt.Sprintf("severity %d outside 0-10", severity)}
	}
	if criteria.Exclude == nil {
		criteria.Exclude = make(map[string]struct{})
	}

	sessionID := userConn.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
		if err := c.registry.ReassignSession(userConn.ConnID, sessionID); err != nil {
			return nil, err
		}
	}

	critical := severity >= c.cfg.CriticalThreshold
	c.registry.UpdateSeverity(userConn.ConnID, severity, critical)

	sess, created := c.getOrCreate(sessionID, severity, criteria)
	if !created {
		// Reconnection: the session keeps its in-flight severity and
		// escalation state; nothing is re-matched.
		return &StartResult{
			SessionID: sess.ID,
			State:     sess.State(),
			Severity:  sess.Severity(),
			Rejoined:  true,
		}, nil
	}

	c.registry.SessionOpened()
	if critical {
		c.registry.SessionBecameCritical()
		sess.markCritical()
	}

	matchStart := time.Now()
	volunteer := c.claimMatch(sess)

	res := &StartResult{SessionID: sess.ID, Severity: sess.Severity()}
	if volunteer != nil {
		sess.setVolunteer(volunteer.ConnID)
		res.Volunteer = volunteer.Public()
		if volunteer.Availability == models.AvailabilityImmediate {
			res.EstimatedResponseSec = estimatedResponseImmediate
		} else {
			res.EstimatedResponseSec = estimatedResponseScheduled
		}
		c.registry.ObserveResponseTime(float64(time.Since(matchStart).Milliseconds()))
	}
	if volunteer == nil || critical {
		res.ProfessionalAssigned = c.attachProfessional(sess)
	}
	res.State = sess.State()

	// Announce locally exactly once; retries cover only the publish.
	matched := c.announceStart(sess, userConn, res)

	raw, err := c.engine.Execute(func(ctx context.Context) (any, error) {
		if c.publisher != nil {
			if perr := c.publisher.PublishSession(ctx, sess.ID, matched); perr != nil {
				return nil, perr
			}
		}
		return res, nil
	}, recovery.Options{
		ServiceName:   "session-start",
		Priority:      recovery.TierHighCrisis,
		OperationType: "crisis-chat",
		IsCrisisUser:  critical,
	})
	if err != nil {
		return nil, err
	}
	if bp, ok := raw.(*recovery.BypassPayload); ok {
		c.forwardBypass(sess.ID, bp)
		res.Bypass = bp
	}

	c.logger.Info("session started",
		"session_id", sess.ID, "severity", severity,
		"matched", volunteer != nil, "professional", res.ProfessionalAssigned)
	return res, nil
}

// claimMatch picks the best pool candidate, claims them, and binds them to
// the session, retrying when a concurrent session wins the same candidate
// first or the candidate disconnects mid-claim.
func (c *Coordinator) claimMatch(sess *Session) *models.VolunteerProfile {
	for {
		candidate := Match(c.registry.VolunteerPool(), sess.criteria)
		if candidate == nil {
			return nil
		}
		profile, ok := c.registry.TakeVolunteer(candidate.ConnID)
		if !ok {
			sess.exclude(candidate.ConnID)
			continue
		}
		if err := c.registry.ReassignSession(profile.ConnID, sess.ID); err != nil {
			sess.exclude(profile.ConnID)
			continue
		}
		return profile
	}
}

// announceStart delivers the match events to the locally attached user and
// volunteer, and returns the event for the cross-instance publish.
func (c *Coordinator) announceStart(sess *Session, userConn *models.Connection, res *StartResult) models.ServerEvent {
	userConn.SafeSend(models.ServerEvent{
		Type:                 models.EventCrisisMatch,
		SessionID:            sess.ID,
		State:                res.State,
		Severity:             res.Severity,
		Volunteer:            res.Volunteer,
		EstimatedResponseSec: res.EstimatedResponseSec,
		ProfessionalAssigned: res.ProfessionalAssigned,
	})
	if volID := sess.volunteer(); volID != "" {
		if vconn, ok := c.registry.Get(volID); ok {
			vconn.SafeSend(models.ServerEvent{
				Type:      models.EventVolunteerMatched,
				SessionID: sess.ID,
				Severity:  res.Severity,
			})
		}
	}
	return models.ServerEvent{
		Type:      models.EventVolunteerMatched,
		SessionID: sess.ID,
		Severity:  res.Severity,
		Volunteer: res.Volunteer,
	}
}

// RelayResult is the answer to crisis:message.
type RelayResult struct {
	Delivered int
	Bypass    *recovery.BypassPayload
}

// RelayMessage delivers a message to every other session member. This is the
// single most safety-relevant operation in the system, so delivery runs at
// the critical tier: on total failure the sender receives the emergency
// bypass payload instead of an error. Oversized content is rejected outright
// because silent truncation could drop crisis information.
func (c *Coordinator) RelayMessage(sender *models.Connection, sessionID, content string) (*RelayResult, error) {
	sess, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State().Terminal() {
		return nil, ErrSessionResolved
	}
	if content == "" {
		return nil, &ValidationError{Field: "content", Reason: "message content is empty"}
	}
	if len(content) > c.cfg.MaxMessageLength {
		return nil, &ValidationError{
			Field:  "content",
			Reason: fmt.Sprintf("message length %d exceeds the %d character limit", len(content), c.cfg.MaxMessageLength),
		}
	}

	ev := models.ServerEvent{
		Type:       models.EventCrisisMessage,
		SessionID:  sessionID,
		Content:    content,
		SenderRole: sender.Role,
	}

	// Local members get the message exactly once; only the cross-instance
	// publish sits inside the retry loop.
	delivered := c.registry.Broadcast(sessionID, ev, sender.ConnID)

	raw, err := c.engine.Execute(func(ctx context.Context) (any, error) {
		if c.publisher != nil {
			if perr := c.publisher.PublishSession(ctx, sessionID, ev); perr != nil {
				return nil, perr
			}
		}
		return &RelayResult{Delivered: delivered}, nil
	}, recovery.Options{
		ServiceName:   "message-delivery",
		Priority:      recovery.TierCriticalCrisis,
		OperationType: "crisis-chat",
		IsCrisisUser:  sender.Role == models.RoleUser,
	})
	if err != nil {
		return nil, err
	}

	sess.markActive()
	c.registry.UpdateActivity(sender.ConnID)

	if bp, ok := raw.(*recovery.BypassPayload); ok {
		c.forwardBypass(sessionID, bp)
		return &RelayResult{Bypass: bp}, nil
	}
	return raw.(*RelayResult), nil
}

// EscalateResult is the answer to crisis:escalate.
type EscalateResult struct {
	Severity             int
	State                models.SessionState
	ProfessionalAssigned bool
	Notified             []models.DeliveryStatus
	Bypass               *recovery.BypassPayload
}

// Escalate raises the session severity by delta (capped at 10). A resulting
// severity at or above the critical threshold triggers the emergency
// services handoff. A professional attach is attempted either way, and the
// new severity plus assignment outcome is broadcast to all members whether
// or not a professional was found. The escalation broadcast is enqueued
// before Escalate returns, so it precedes any ordinary message queued after.
func (c *Coordinator) Escalate(sessionID string, delta int, reason string) (*EscalateResult, error) {
	if delta <= 0 {
		return nil, &ValidationError{Field: "severity_increase", Reason: "must be positive"}
	}
	sess, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}

	newSeverity, crossedCritical, becameEscalated, err := sess.applyEscalation(delta, c.cfg.CriticalThreshold)
	if err != nil {
		return nil, err
	}
	if becameEscalated {
		c.registry.SessionEscalated()
	}
	if crossedCritical {
		c.registry.SessionBecameCritical()
	}

	critical := newSeverity >= c.cfg.CriticalThreshold
	res := &EscalateResult{Severity: newSeverity, State: sess.State()}

	// Local effects happen exactly once, before the engine: dispatch handoff,
	// professional attach, and the member broadcasts. Only the cross-instance
	// publish is retried, so a flaky fabric never re-pages dispatch or
	// re-delivers the escalation to locally attached members.
	if critical && c.notifier != nil {
		res.Notified = c.notifier.NotifyEmergencyServices(context.Background(), sessionID, newSeverity, c.userLocation(sessionID))
	}
	if sess.professional() == "" {
		res.ProfessionalAssigned = c.attachProfessional(sess)
	} else {
		res.ProfessionalAssigned = true
	}

	escalated := models.ServerEvent{
		Type:                 models.EventCrisisEscalated,
		SessionID:            sessionID,
		Severity:             newSeverity,
		Reason:               reason,
		State:                sess.State(),
		ProfessionalAssigned: res.ProfessionalAssigned,
	}
	c.registry.Broadcast(sessionID, escalated, "")
	if critical && len(res.Notified) > 0 {
		c.registry.Broadcast(sessionID, models.ServerEvent{
			Type:      models.EventEmergencyNotified,
			SessionID: sessionID,
			Severity:  newSeverity,
			Notified:  res.Notified,
		}, "")
	}

	raw, err := c.engine.Execute(func(ctx context.Context) (any, error) {
		if c.publisher != nil {
			if perr := c.publisher.PublishSession(ctx, sessionID, escalated); perr != nil {
				return nil, perr
			}
		}
		return res, nil
	}, recovery.Options{
		ServiceName:   "escalation",
		Priority:      recovery.TierHighCrisis,
		OperationType: "crisis-assessment",
		IsCrisisUser:  critical,
	})
	if err != nil {
		return nil, err
	}
	if bp, ok := raw.(*recovery.BypassPayload); ok {
		c.forwardBypass(sessionID, bp)
		res.Bypass = bp
	}

	c.logger.Warn("session escalated",
		"session_id", sessionID, "severity", newSeverity,
		"critical", critical, "professional", res.ProfessionalAssigned)
	return res, nil
}

// TransferResult is the answer to volunteer:transfer.
type TransferResult struct {
	Volunteer *models.VolunteerPublic
}

// TransferVolunteer re-runs matching excluding already-tried volunteers and
// swaps the session's volunteer. When no candidate exists after the tier's
// retries, the caller gets ErrNoVolunteersAvailable so it can inform the
// requester explicitly instead of leaving the request pending.
func (c *Coordinator) TransferVolunteer(sessionID string, exclude []string, reason, urgency string) (*TransferResult, error) {
	sess, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State().Terminal() {
		return nil, ErrSessionResolved
	}

	excluded := make(map[string]struct{}, len(exclude)+1)
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	if current := sess.volunteer(); current != "" {
		excluded[current] = struct{}{}
	}
	criteria := sess.criteriaWithExclusions(excluded)

	// The engine retries only the claim, so a momentarily empty pool gets the
	// tier's full retry budget. The swap and the broadcast run exactly once
	// after a candidate is secured.
	raw, err := c.engine.Execute(func(ctx context.Context) (any, error) {
		for {
			candidate := Match(c.registry.VolunteerPool(), criteria)
			if candidate == nil {
				return nil, ErrNoVolunteersAvailable
			}
			profile, ok := c.registry.TakeVolunteer(candidate.ConnID)
			if !ok {
				criteria.Exclude[candidate.ConnID] = struct{}{}
				continue
			}
			if rerr := c.registry.ReassignSession(profile.ConnID, sessionID); rerr != nil {
				// candidate disconnected between claim and reassignment
				criteria.Exclude[profile.ConnID] = struct{}{}
				continue
			}
			return profile, nil
		}
	}, recovery.Options{
		ServiceName:   "volunteer-transfer",
		Priority:      recovery.TierMediumSupport,
		OperationType: "crisis-chat",
	})
	if err != nil {
		return nil, err
	}
	profile := raw.(*models.VolunteerProfile)

	old := sess.swapVolunteer(profile.ConnID)
	if old != "" {
		// out of the session set before the joined broadcast fans out
		c.registry.ReassignSession(old, "")
	}

	joined := models.ServerEvent{
		Type:      models.EventVolunteerJoined,
		SessionID: sessionID,
		Volunteer: profile.Public(),
		Reason:    reason,
	}
	c.registry.Broadcast(sessionID, joined, "")
	if c.publisher != nil {
		if _, perr := c.engine.Execute(func(ctx context.Context) (any, error) {
			return nil, c.publisher.PublishSession(ctx, sessionID, joined)
		}, recovery.Options{
			ServiceName:   "volunteer-transfer",
			Priority:      recovery.TierMediumSupport,
			OperationType: "crisis-chat",
		}); perr != nil {
			// the transfer itself already happened; remote fan-out is best effort
			c.logger.Warn("transfer publish failed", "session_id", sessionID, "error", perr)
		}
	}
	return &TransferResult{Volunteer: profile.Public()}, nil
}

// EndResult is the answer to crisis:end.
type EndResult struct {
	Duration time.Duration
	Outcome  models.SessionOutcome
}

// EndSession broadcasts closure with duration and outcome, tears down
// session membership, and releases the session's counters. Teardown and
// counter release happen even when the closure broadcast exhausts its
// retries, so counters never leak on the failure path.
func (c *Coordinator) EndSession(sessionID string, outcome models.SessionOutcome) (*EndResult, error) {
	sess, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	if outcome == "" {
		outcome = models.OutcomeUnspecified
	}

	duration, wasCritical, wasEscalated, done := sess.close()
	if !done {
		return nil, ErrSessionResolved
	}

	res := &EndResult{Duration: duration, Outcome: outcome}
	ended := models.ServerEvent{
		Type:            models.EventCrisisEnded,
		SessionID:       sessionID,
		Outcome:         outcome,
		DurationSeconds: duration.Seconds(),
	}
	c.registry.Broadcast(sessionID, ended, "")

	_, execErr := c.engine.Execute(func(ctx context.Context) (any, error) {
		if c.publisher != nil {
			if perr := c.publisher.PublishSession(ctx, sessionID, ended); perr != nil {
				return nil, perr
			}
		}
		return res, nil
	}, recovery.Options{
		ServiceName:   "session-end",
		Priority:      recovery.TierLowGeneral,
		OperationType: "crisis-chat",
	})

	for _, member := range c.registry.SessionMembers(sessionID) {
		c.registry.ReassignSession(member.ConnID, "")
	}
	c.registry.SessionClosed(wasCritical, wasEscalated)
	c.dropSession(sessionID)

	c.logger.Info("session ended",
		"session_id", sessionID, "outcome", string(outcome),
		"duration_seconds", duration.Seconds())

	if execErr != nil {
		return nil, execErr
	}
	return res, nil
}

// forwardBypass delivers the emergency bypass payload to every session
// participant as a priority event.
func (c *Coordinator) forwardBypass(sessionID string, bp *recovery.BypassPayload) {
	c.registry.Broadcast(sessionID, models.ServerEvent{
		Type:      models.EventCrisisUrgent,
		SessionID: sessionID,
		Emergency: bp,
	}, "")
}

// attachProfessional claims an available professional for the session.
// Broadcasts professional:joined on success.
func (c *Coordinator) attachProfessional(sess *Session) bool {
	pconn, ok := c.registry.TakeProfessional()
	if !ok {
		return false
	}
	c.registry.ReassignSession(pconn.ConnID, sess.ID)
	sess.setProfessional(pconn.ConnID)
	c.registry.Broadcast(sess.ID, models.ServerEvent{
		Type:      models.EventProfessionalJoined,
		SessionID: sess.ID,
	}, "")
	return true
}

// userLocation finds the at-risk user's last reported location for the
// emergency handoff.
func (c *Coordinator) userLocation(sessionID string) *models.GeoLocation {
	for _, member := range c.registry.SessionMembers(sessionID) {
		if member.Role == models.RoleUser && member.Location != nil {
			return member.Location
		}
	}
	return nil
}

// HandleRemoteEvent fans a pub/sub-delivered event out to locally attached
// session members. The local registry is authoritative only for local
// connections; this is the receiving half of cross-instance routing.
func (c *Coordinator) HandleRemoteEvent(sessionID string, ev models.ServerEvent) {
	c.registry.Broadcast(sessionID, ev, "")
}

// Session returns the session by id, if it exists.
func (c *Coordinator) Session(sessionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	return sess, ok
}

func (c *Coordinator) session(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (c *Coordinator) getOrCreate(sessionID string, severity int, criteria models.MatchCriteria) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[sessionID]; ok && !sess.State().Terminal() {
		return sess, false
	}
	sess := newSession(sessionID, severity, criteria)
	c.sessions[sessionID] = sess
	return sess, true
}

func (c *Coordinator) dropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}
