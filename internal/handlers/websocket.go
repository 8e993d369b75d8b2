package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"lifeline/internal/coordinator"
	"lifeline/internal/models"
	"lifeline/internal/registry"
	"lifeline/internal/services"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

const (
	readDeadline  = 120 * time.Second
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second

	// Inbound event budget per connection. Crisis chat is human-paced;
	// anything past this is a misbehaving client.
	eventsPerSecond = 10
	eventBurst      = 20
)

// CrisisHandler handles crisis WebSocket connections
type CrisisHandler struct {
	registry *registry.Registry
	coord    *coordinator.Coordinator
	metrics  *services.Metrics // optional
}

// NewCrisisHandler creates a new crisis WebSocket handler
func NewCrisisHandler(reg *registry.Registry, coord *coordinator.Coordinator, metrics *services.Metrics) *CrisisHandler {
	return &CrisisHandler{
		registry: reg,
		coord:    coord,
		metrics:  metrics,
	}
}

// Handle handles a new WebSocket connection
func (h *CrisisHandler) Handle(c *websocket.Conn) {
	role := models.RoleUser
	if r, ok := c.Locals("user_role").(string); ok && r != "" {
		role = models.Role(r)
	}

	conn := &models.Connection{
		SessionID: c.Query("session_id"), // non-empty on reconnect: rejoin in place
		Role:      role,
		Conn:      c,
		WriteChan: make(chan models.ServerEvent, 100),
		StopChan:  make(chan struct{}),
	}

	h.registry.Admit(conn)
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnect()
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		conn.MarkClosed()
		h.registry.Remove(conn.ConnID)
		close(conn.StopChan)
		if h.metrics != nil {
			h.metrics.RecordWebSocketDisconnect()
		}
	}()

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		h.registry.UpdateActivity(conn.ConnID)
		return nil
	})

	go h.pingLoop(conn, done)
	go h.writeLoop(conn)

	conn.WriteChan <- models.ServerEvent{
		Type:      models.EventConnected,
		SessionID: conn.SessionID,
	}

	h.readLoop(conn)
}

// pingLoop sends periodic pings to keep the WebSocket connection alive
func (h *CrisisHandler) pingLoop(conn *models.Connection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(writeDeadline); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", conn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop drains the connection's outbound queue onto the wire. Single
// writer per connection; everything else goes through WriteChan.
func (h *CrisisHandler) writeLoop(conn *models.Connection) {
	for {
		select {
		case <-conn.StopChan:
			return
		case ev, ok := <-conn.WriteChan:
			if !ok {
				return
			}
			conn.Mutex.Lock()
			conn.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := conn.Conn.WriteJSON(ev)
			conn.Mutex.Unlock()
			if err != nil {
				log.Printf("❌ WebSocket write error for %s: %v", conn.ConnID, err)
				conn.MarkClosed()
				return
			}
			if h.metrics != nil {
				h.metrics.RecordMessage(ev.Type, "outbound")
			}
		}
	}
}

// readLoop handles incoming events from the client
func (h *CrisisHandler) readLoop(conn *models.Connection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(eventsPerSecond), eventBurst)

	for {
		_, msg, err := conn.Conn.ReadMessage()
		if err != nil {
			log.Printf("❌ WebSocket read error for %s: %v", conn.ConnID, err)
			break
		}
		conn.Conn.SetReadDeadline(time.Now().Add(readDeadline))

		if !limiter.Allow() {
			h.sendError(conn, "rate_limited", "Too many events, slow down")
			continue
		}

		var ev models.ClientEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Printf("⚠️  Invalid event format from %s: %v", conn.ConnID, err)
			h.sendError(conn, "invalid_format", "Invalid event format")
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordMessage(ev.Type, "inbound")
		}

		switch ev.Type {
		case "ping":
			conn.SafeSend(models.ServerEvent{Type: "pong"})
			h.registry.UpdateActivity(conn.ConnID)
		case models.EventCrisisStart:
			h.handleCrisisStart(conn, ev)
		case models.EventCrisisMessage:
			h.handleCrisisMessage(conn, ev)
		case models.EventCrisisEscalate:
			h.handleCrisisEscalate(conn, ev)
		case models.EventCrisisEnd:
			h.handleCrisisEnd(conn, ev)
		case models.EventVolunteerAvailable:
			h.handleVolunteerAvailable(conn, ev)
		case models.EventVolunteerAccept:
			h.handleVolunteerAccept(conn, ev)
		case models.EventVolunteerTransfer:
			h.handleVolunteerTransfer(conn, ev)
		case models.EventProfessionalTakeover:
			h.handleProfessionalTakeover(conn, ev)
		case models.EventProfessionalNotes:
			h.handleProfessionalNotes(conn, ev)
		case models.EventProfessionalAssessment:
			h.handleProfessionalAssessment(conn, ev)
		case models.EventEmergencyNotify:
			h.handleEmergencyNotify(conn, ev)
		case models.EventEmergencyLocation:
			h.handleEmergencyLocation(conn, ev)
		case models.EventMonitorSubscribe:
			h.handleMonitorSubscribe(conn)
		default:
			log.Printf("⚠️  Unknown event type: %s", ev.Type)
			h.sendError(conn, "unknown_event", "Unknown event type")
		}
	}
}

func (h *CrisisHandler) handleCrisisStart(conn *models.Connection, ev models.ClientEvent) {
	criteria := models.MatchCriteria{
		Languages:       ev.Languages,
		Specializations: ev.Specializations,
	}
	res, err := h.coord.StartSession(conn, ev.Severity, criteria)
	if err != nil {
		h.sendOpError(conn, err)
		return
	}
	// The coordinator announces crisis:match (or the bypass payload on total
	// failure) itself; the handler only sends the rejoin acknowledgment.
	if res.Rejoined {
		conn.SafeSend(models.ServerEvent{
			Type:      models.EventCrisisMatch,
			SessionID: res.SessionID,
			State:     res.State,
			Severity:  res.Severity,
		})
	}
}

func (h *CrisisHandler) handleCrisisMessage(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if _, err := h.coord.RelayMessage(conn, sessionID, ev.Content); err != nil {
		h.sendOpError(conn, err)
	}
}

func (h *CrisisHandler) handleCrisisEscalate(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if _, err := h.coord.Escalate(sessionID, ev.SeverityIncrease, ev.Reason); err != nil {
		h.sendOpError(conn, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordEscalation()
	}
}

func (h *CrisisHandler) handleCrisisEnd(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if _, err := h.coord.EndSession(sessionID, ev.Outcome); err != nil {
		h.sendOpError(conn, err)
	}
}

func (h *CrisisHandler) handleVolunteerAvailable(conn *models.Connection, ev models.ClientEvent) {
	if conn.Role != models.RoleVolunteer {
		h.sendError(conn, "forbidden", "Only volunteers may announce availability")
		return
	}
	availability := ev.Availability
	if availability == "" {
		availability = models.AvailabilityImmediate
	}
	h.registry.AddVolunteer(&models.VolunteerProfile{
		ConnID:          conn.ConnID,
		Name:            ev.Name,
		Languages:       ev.Languages,
		Specializations: ev.Specializations,
		Availability:    availability,
		ExperienceYears: ev.ExperienceYears,
		Rating:          ev.Rating,
	})
	h.registry.UpdateActivity(conn.ConnID)
}

func (h *CrisisHandler) handleVolunteerAccept(conn *models.Connection, ev models.ClientEvent) {
	if conn.Role != models.RoleVolunteer {
		h.sendError(conn, "forbidden", "Only volunteers may accept a match")
		return
	}
	if err := h.coord.JoinAsVolunteer(conn, ev.SessionID); err != nil {
		h.sendOpError(conn, err)
	}
}

func (h *CrisisHandler) handleVolunteerTransfer(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	res, err := h.coord.TransferVolunteer(sessionID, ev.Exclude, ev.Reason, ev.Urgency)
	if err != nil {
		// An exhausted pool is an explicit answer, not a dropped request.
		if errors.Is(err, coordinator.ErrNoVolunteersAvailable) {
			conn.SafeSend(models.ServerEvent{
				Type:      models.EventTransferFailed,
				SessionID: sessionID,
				Reason:    "no volunteers available",
			})
			return
		}
		h.sendOpError(conn, err)
		return
	}
	conn.SafeSend(models.ServerEvent{
		Type:      models.EventVolunteerJoined,
		SessionID: sessionID,
		Volunteer: res.Volunteer,
	})
}

func (h *CrisisHandler) handleProfessionalTakeover(conn *models.Connection, ev models.ClientEvent) {
	if conn.Role != models.RoleProfessional {
		h.sendError(conn, "forbidden", "Only professionals may take over a session")
		return
	}
	if err := h.coord.TakeoverAsProfessional(conn, ev.SessionID); err != nil {
		h.sendOpError(conn, err)
	}
}

func (h *CrisisHandler) handleProfessionalNotes(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if err := h.coord.RecordNotes(conn, sessionID, ev.Notes); err != nil {
		h.sendOpError(conn, err)
	}
}

func (h *CrisisHandler) handleProfessionalAssessment(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if err := h.coord.RecordAssessment(conn, sessionID, ev.RiskLevel); err != nil {
		h.sendOpError(conn, err)
	}
}

func (h *CrisisHandler) handleEmergencyNotify(conn *models.Connection, ev models.ClientEvent) {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	statuses, bypass, err := h.coord.NotifyEmergency(sessionID)
	if err != nil {
		h.sendOpError(conn, err)
		return
	}
	if bypass != nil {
		// The bypass was already fanned out to the whole session.
		return
	}
	conn.SafeSend(models.ServerEvent{
		Type:      models.EventEmergencyNotified,
		SessionID: sessionID,
		Notified:  statuses,
	})
}

func (h *CrisisHandler) handleEmergencyLocation(conn *models.Connection, ev models.ClientEvent) {
	if ev.Location == nil {
		h.sendError(conn, "invalid_location", "Location payload is required")
		return
	}
	if ev.Device != "" {
		conn.Device = ev.Device
	}
	h.coord.UpdateLocation(conn, ev.Location)
	h.registry.UpdateActivity(conn.ConnID)
}

func (h *CrisisHandler) handleMonitorSubscribe(conn *models.Connection) {
	if conn.Role != models.RoleProfessional {
		h.sendError(conn, "forbidden", "Only professionals may subscribe to monitoring")
		return
	}
	h.registry.SubscribeMonitoring(conn.ConnID)
	snapshot := h.registry.Snapshot()
	conn.SafeSend(models.ServerEvent{
		Type:    models.EventMetricsUpdate,
		Metrics: &snapshot,
	})
}

// sendOpError maps a coordinator error onto an error event. Validation and
// lookup failures are answers to the client, never grounds to disconnect.
func (h *CrisisHandler) sendOpError(conn *models.Connection, err error) {
	switch {
	case coordinator.IsValidation(err):
		h.sendError(conn, "validation_failed", err.Error())
	case errors.Is(err, coordinator.ErrSessionNotFound):
		h.sendError(conn, "session_not_found", "No such session")
	case errors.Is(err, coordinator.ErrSessionResolved):
		h.sendError(conn, "session_resolved", "Session has already ended")
	case errors.Is(err, coordinator.ErrNoVolunteersAvailable):
		h.sendError(conn, "no_volunteers", "No volunteers available")
	case errors.Is(err, coordinator.ErrNoProfessionalsAvailable):
		h.sendError(conn, "no_professionals", "No professionals available")
	default:
		log.Printf("❌ Operation failed for %s: %v", conn.ConnID, err)
		h.sendError(conn, "internal_error", "Operation failed")
	}
}

func (h *CrisisHandler) sendError(conn *models.Connection, code, message string) {
	conn.SafeSend(models.ServerEvent{
		Type:         "error",
		ErrorCode:    code,
		ErrorMessage: message,
	})
}
