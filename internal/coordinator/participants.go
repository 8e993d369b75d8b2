package coordinator

import (
	"context"

	"lifeline/internal/models"
	"lifeline/internal/recovery"
)

// JoinAsVolunteer handles volunteer:accept — the volunteer leaves the
// availability pool and joins the session's member set in one reassignment.
func (c *Coordinator) JoinAsVolunteer(volConn *models.Connection, sessionID string) error {
	sess, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if sess.State().Terminal() {
		return ErrSessionResolved
	}

	// Gone from the pool the instant the match is accepted.
	profile, _ := c.registry.TakeVolunteer(volConn.ConnID)
	if err := c.registry.ReassignSession(volConn.ConnID, sessionID); err != nil {
		return err
	}
	sess.swapVolunteer(volConn.ConnID)

	joined := models.ServerEvent{
		Type:      models.EventVolunteerJoined,
		SessionID: sessionID,
	}
	if profile != nil {
		joined.Volunteer = profile.Public()
	}
	c.registry.Broadcast(sessionID, joined, volConn.ConnID)
	return nil
}

// TakeoverAsProfessional handles professional:takeover — the professional
// joins the session and an open escalation is considered handled.
func (c *Coordinator) TakeoverAsProfessional(proConn *models.Connection, sessionID string) error {
	sess, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if sess.State().Terminal() {
		return ErrSessionResolved
	}

	if err := c.registry.ReassignSession(proConn.ConnID, sessionID); err != nil {
		return err
	}
	sess.setProfessional(proConn.ConnID)
	if sess.resolveEscalation() {
		c.registry.EscalationHandled()
	}

	c.registry.Broadcast(sessionID, models.ServerEvent{
		Type:      models.EventProfessionalJoined,
		SessionID: sessionID,
	}, proConn.ConnID)
	return nil
}

// RecordNotes handles professional:notes. Notes are relayed only to other
// professionals in the session, never to the user, and never logged.
func (c *Coordinator) RecordNotes(proConn *models.Connection, sessionID, notes string) error {
	if proConn.Role != models.RoleProfessional {
		return &ValidationError{Field: "role", Reason: "only professionals may record session notes"}
	}
	if _, err := c.session(sessionID); err != nil {
		return err
	}

	ev := models.ServerEvent{
		Type:       models.EventProfessionalNotes,
		SessionID:  sessionID,
		Content:    notes,
		SenderRole: models.RoleProfessional,
	}
	for _, member := range c.registry.SessionMembers(sessionID) {
		if member.Role == models.RoleProfessional && member.ConnID != proConn.ConnID {
			member.SafeSend(ev)
		}
	}
	return nil
}

// RecordAssessment handles professional:assessment. A risk level above the
// current severity escalates by the difference; a sub-critical assessment on
// an escalated session marks the escalation handled.
func (c *Coordinator) RecordAssessment(proConn *models.Connection, sessionID string, riskLevel int) error {
	if proConn.Role != models.RoleProfessional {
		return &ValidationError{Field: "role", Reason: "only professionals may record assessments"}
	}
	if riskLevel < 0 || riskLevel > 10 {
		return &ValidationError{Field: "risk_level", Reason: "risk level outside 0-10"}
	}
	sess, err := c.session(sessionID)
	if err != nil {
		return err
	}

	current := sess.Severity()
	if riskLevel > current {
		_, eerr := c.Escalate(sessionID, riskLevel-current, "professional assessment")
		return eerr
	}
	if riskLevel < c.cfg.CriticalThreshold && sess.resolveEscalation() {
		c.registry.EscalationHandled()
		c.registry.Broadcast(sessionID, models.ServerEvent{
			Type:      models.EventCrisisEscalated,
			SessionID: sessionID,
			Severity:  current,
			State:     sess.State(),
			Reason:    "escalation handled",
		}, "")
	}
	return nil
}

// NotifyEmergency handles an explicit emergency:notify request. Runs at the
// high-crisis tier with crisis-user degradation: the requester always gets
// either delivery statuses or the emergency bypass.
func (c *Coordinator) NotifyEmergency(sessionID string) ([]models.DeliveryStatus, *recovery.BypassPayload, error) {
	sess, err := c.session(sessionID)
	if err != nil {
		return nil, nil, err
	}

	raw, err := c.engine.Execute(func(ctx context.Context) (any, error) {
		if c.notifier == nil {
			return nil, ErrNoDispatchCollaborator
		}
		statuses := c.notifier.NotifyEmergencyServices(ctx, sessionID, sess.Severity(), c.userLocation(sessionID))
		c.registry.Broadcast(sessionID, models.ServerEvent{
			Type:      models.EventEmergencyNotified,
			SessionID: sessionID,
			Severity:  sess.Severity(),
			Notified:  statuses,
		}, "")
		return statuses, nil
	}, recovery.Options{
		ServiceName:   "emergency-dispatch",
		Priority:      recovery.TierHighCrisis,
		OperationType: "crisis-assessment",
		IsCrisisUser:  true,
	})
	if err != nil {
		return nil, nil, err
	}
	if bp, ok := raw.(*recovery.BypassPayload); ok {
		c.forwardBypass(sessionID, bp)
		return nil, bp, nil
	}
	return raw.([]models.DeliveryStatus), nil, nil
}

// UpdateLocation handles emergency:location — records the participant's
// position and tells the session. Coordinates are forwarded, never logged.
func (c *Coordinator) UpdateLocation(conn *models.Connection, loc *models.GeoLocation) {
	if loc == nil {
		return
	}
	c.registry.UpdateLocation(conn.ConnID, loc)
	if conn.SessionID != "" {
		c.registry.Broadcast(conn.SessionID, models.ServerEvent{
			Type:       models.EventLocationUpdated,
			SessionID:  conn.SessionID,
			SenderRole: conn.Role,
			Location:   loc,
		}, conn.ConnID)
	}
}
