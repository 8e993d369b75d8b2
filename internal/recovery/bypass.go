package recovery

import (
	"sync"
	"time"
)

// EmergencyContact is one always-reachable crisis resource. The canonical
// list below is compiled in so the bypass path works with every other
// subsystem down.
type EmergencyContact struct {
	Name    string `json:"name" yaml:"name"`
	Contact string `json:"contact" yaml:"contact"`
	Method  string `json:"method" yaml:"method"` // "call" or "text"
}

// BypassPayload is the dependency-free response returned when a crisis-tier
// operation exhausts every retry and fallback. It is pure data assembly:
// nothing in here touches the registry, the coordinator, or any transport.
type BypassPayload struct {
	EmergencyMode bool               `json:"emergency_mode"`
	Message       string             `json:"message"`
	Contacts      []EmergencyContact `json:"contacts"`
	Actions       []string           `json:"actions"`
	OperationType string             `json:"operation_type"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

var defaultContacts = []EmergencyContact{
	{Name: "988 Suicide & Crisis Lifeline", Contact: "988", Method: "call"},
	{Name: "Emergency Services", Contact: "911", Method: "call"},
	{Name: "Crisis Text Line", Contact: "Text HOME to 741741", Method: "text"},
}

// fallbackActions maps an operation type to concrete next steps the client
// can render without any server support.
var fallbackActions = map[string][]string{
	"crisis-chat": {
		"Call the 988 Suicide & Crisis Lifeline now for immediate support",
		"Text HOME to 741741 to reach a crisis counselor by text",
		"If you are in immediate danger, call 911",
	},
	"safety-planning": {
		"Move to a safe location away from means of harm",
		"Contact someone from your personal safety plan",
		"Call 988 to build a safety plan with a counselor",
	},
	"crisis-assessment": {
		"Call 988 for an immediate assessment by a trained counselor",
		"Go to the nearest emergency room if you are at risk of acting on thoughts of harm",
	},
	"default": {
		"Call the 988 Suicide & Crisis Lifeline",
		"Call 911 if this is a life-threatening emergency",
	},
}

var (
	contactsMu sync.RWMutex
	contacts   = defaultContacts
)

// BypassFor assembles the emergency bypass payload for an operation type.
// Unknown operation types fall back to the default action set.
func BypassFor(operationType string) *BypassPayload {
	actions, ok := fallbackActions[operationType]
	if !ok {
		actions = fallbackActions["default"]
	}

	contactsMu.RLock()
	list := make([]EmergencyContact, len(contacts))
	copy(list, contacts)
	contactsMu.RUnlock()

	return &BypassPayload{
		EmergencyMode: true,
		Message:       "We are having trouble reaching our support systems. You are not alone — please use one of the contacts below right now.",
		Contacts:      list,
		Actions:       actions,
		OperationType: operationType,
		GeneratedAt:   time.Now(),
	}
}

// SetContacts replaces the canonical contact list. Called once at bootstrap
// when a regional override file is configured; the bypass path itself never
// reads anything but the in-memory copy.
func SetContacts(list []EmergencyContact) {
	if len(list) == 0 {
		return
	}
	contactsMu.Lock()
	contacts = list
	contactsMu.Unlock()
}

// Contacts returns a copy of the active emergency contact list.
func Contacts() []EmergencyContact {
	contactsMu.RLock()
	defer contactsMu.RUnlock()
	list := make([]EmergencyContact, len(contacts))
	copy(list, contacts)
	return list
}
