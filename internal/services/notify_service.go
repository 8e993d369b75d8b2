package services

import (
	"context"
	"log/slog"
	"time"

	"lifeline/internal/models"
	"lifeline/internal/recovery"

	gocache "github.com/patrickmn/go-cache"
)

// Dispatcher is the external emergency-services integration. This core only
// performs the data handoff; the actual dispatch wiring lives outside.
type Dispatcher interface {
	Dispatch(ctx context.Context, contact recovery.EmergencyContact, payload DispatchPayload) error
}

// DispatchPayload is the data handed to the dispatch collaborator. Message
// content never appears here, only session metadata.
type DispatchPayload struct {
	SessionID string              `json:"session_id"`
	Severity  int                 `json:"severity"`
	Location  *models.GeoLocation `json:"location,omitempty"`
	SentAt    time.Time           `json:"sent_at"`
}

// NotifyService hands emergency data off to dispatch, contact by contact.
// Re-notifications for the same session are deduplicated for a TTL window so
// recovery-engine retries and racing escalations don't page dispatch twice.
type NotifyService struct {
	dispatcher Dispatcher
	dedup      *gocache.Cache
	logger     *slog.Logger
}

// dedupWindow is how long a session's dispatch handoff suppresses repeats.
const dedupWindow = 5 * time.Minute

// NewNotifyService creates the notification service. dispatcher may be nil,
// in which case handoffs are recorded as undeliverable.
func NewNotifyService(dispatcher Dispatcher, logger *slog.Logger) *NotifyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyService{
		dispatcher: dispatcher,
		dedup:      gocache.New(dedupWindow, 10*time.Minute),
		logger:     logger,
	}
}

// NotifyEmergencyServices implements coordinator.Notifier. Fire-and-forget
// semantics: every contact is attempted, failures are recorded in the
// per-contact status rather than aborting the handoff.
func (n *NotifyService) NotifyEmergencyServices(ctx context.Context, sessionID string, severity int, location *models.GeoLocation) []models.DeliveryStatus {
	if cached, ok := n.dedup.Get(sessionID); ok {
		return cached.([]models.DeliveryStatus)
	}

	payload := DispatchPayload{
		SessionID: sessionID,
		Severity:  severity,
		Location:  location,
		SentAt:    time.Now(),
	}

	contacts := recovery.Contacts()
	statuses := make([]models.DeliveryStatus, 0, len(contacts))
	for _, contact := range contacts {
		status := models.DeliveryStatus{Contact: contact.Name}
		if n.dispatcher == nil {
			status.Detail = "no dispatch collaborator configured"
		} else if err := n.dispatcher.Dispatch(ctx, contact, payload); err != nil {
			status.Detail = err.Error()
		} else {
			status.Delivered = true
		}
		statuses = append(statuses, status)
	}

	n.dedup.Set(sessionID, statuses, gocache.DefaultExpiration)
	n.logger.Info("emergency dispatch handoff",
		"session_id", sessionID, "severity", severity,
		"contacts", len(statuses))
	return statuses
}
