package models

import (
	"lifeline/internal/recovery"
)

// Inbound event types (client → server).
const (
	EventCrisisStart            = "crisis:start"
	EventCrisisMessage          = "crisis:message"
	EventCrisisEscalate         = "crisis:escalate"
	EventCrisisEnd              = "crisis:end"
	EventVolunteerAvailable     = "volunteer:available"
	EventVolunteerAccept        = "volunteer:accept"
	EventVolunteerTransfer      = "volunteer:transfer"
	EventProfessionalTakeover   = "professional:takeover"
	EventProfessionalNotes      = "professional:notes"
	EventProfessionalAssessment = "professional:assessment"
	EventEmergencyNotify        = "emergency:notify"
	EventEmergencyLocation      = "emergency:location"
	EventMonitorSubscribe       = "monitor:subscribe"
)

// Outbound event types (server → client).
const (
	EventConnected               = "connected"
	EventCrisisMatch             = "crisis:match"
	EventVolunteerMatched        = "volunteer:matched"
	EventCrisisEscalated         = "crisis:escalated"
	EventCrisisEnded             = "crisis:ended"
	EventVolunteerJoined         = "volunteer:joined"
	EventProfessionalJoined      = "professional:joined"
	EventCrisisUrgent            = "crisis:urgent"
	EventLocationUpdated         = "location:updated"
	EventParticipantDisconnected = "participant:disconnected"
	EventMetricsUpdate           = "metrics:update"
	EventTransferFailed          = "transfer:failed"
	EventEmergencyNotified       = "emergency:notified"
)

// ClientEvent is the JSON envelope for every inbound websocket event. Fields
// beyond Type are consumed selectively per event.
type ClientEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// crisis:start / crisis:message / crisis:escalate / crisis:end
	Severity         int            `json:"severity,omitempty"`
	Content          string         `json:"content,omitempty"`
	SeverityIncrease int            `json:"severity_increase,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Outcome          SessionOutcome `json:"outcome,omitempty"`

	// volunteer:available / volunteer:transfer
	Name            string           `json:"name,omitempty"`
	Languages       []string         `json:"languages,omitempty"`
	Specializations []string         `json:"specializations,omitempty"`
	Availability    AvailabilityMode `json:"availability,omitempty"`
	ExperienceYears int              `json:"experience_years,omitempty"`
	Rating          *float64         `json:"rating,omitempty"`
	Exclude         []string         `json:"exclude,omitempty"`
	Urgency         string           `json:"urgency,omitempty"`

	// professional:notes / professional:assessment
	Notes     string `json:"notes,omitempty"`
	RiskLevel int    `json:"risk_level,omitempty"`

	// emergency:location
	Location *GeoLocation `json:"location,omitempty"`
	Device   string       `json:"device,omitempty"`
}

// DeliveryStatus is the per-contact result of an emergency dispatch handoff.
type DeliveryStatus struct {
	Contact   string `json:"contact"`
	Delivered bool   `json:"delivered"`
	Detail    string `json:"detail,omitempty"`
}

// MetricsSnapshot is the process-wide counter snapshot pushed to monitoring
// subscribers. Counters are clamped at zero; they never drift negative.
type MetricsSnapshot struct {
	ActiveSessions      int     `json:"active_sessions"`
	VolunteersOnline    int     `json:"volunteers_online"`
	ProfessionalsOnline int     `json:"professionals_online"`
	AvgResponseMs       float64 `json:"avg_response_ms"`
	CriticalSessions    int     `json:"critical_sessions"`
	EscalatedSessions   int     `json:"escalated_sessions"`
}

// ServerEvent is the JSON envelope for every outbound websocket event.
type ServerEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	Content    string `json:"content,omitempty"`
	SenderRole Role   `json:"sender_role,omitempty"`

	Severity             int              `json:"severity,omitempty"`
	State                SessionState     `json:"state,omitempty"`
	Volunteer            *VolunteerPublic `json:"volunteer,omitempty"`
	EstimatedResponseSec int              `json:"estimated_response_seconds,omitempty"`
	ProfessionalAssigned bool             `json:"professional_assigned,omitempty"`
	Reason               string           `json:"reason,omitempty"`

	Outcome         SessionOutcome `json:"outcome,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`

	Location *GeoLocation     `json:"location,omitempty"`
	Notified []DeliveryStatus `json:"notified,omitempty"`

	Metrics   *MetricsSnapshot        `json:"metrics,omitempty"`
	Emergency *recovery.BypassPayload `json:"emergency,omitempty"`

	ErrorCode    string `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
}
