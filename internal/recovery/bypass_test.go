package recovery

import (
	"strings"
	"testing"
)

func TestBypassForContainsHotlines(t *testing.T) {
	bp := BypassFor("crisis-chat")

	if !bp.EmergencyMode {
		t.Error("EmergencyMode should be true")
	}
	if bp.OperationType != "crisis-chat" {
		t.Errorf("OperationType = %q", bp.OperationType)
	}
	if bp.GeneratedAt.IsZero() {
		t.Error("GeneratedAt should be set")
	}

	var joined strings.Builder
	for _, c := range bp.Contacts {
		joined.WriteString(c.Contact)
		joined.WriteString(" ")
	}
	for _, want := range []string{"988", "911", "741741"} {
		if !strings.Contains(joined.String(), want) {
			t.Errorf("contacts missing %q: %v", want, bp.Contacts)
		}
	}
	if len(bp.Actions) == 0 {
		t.Error("actions should not be empty")
	}
}

func TestBypassForUnknownOperationType(t *testing.T) {
	bp := BypassFor("something-new")
	if len(bp.Actions) != len(fallbackActions["default"]) {
		t.Errorf("unknown operation type should use default actions, got %v", bp.Actions)
	}
	if bp.OperationType != "something-new" {
		t.Errorf("OperationType = %q", bp.OperationType)
	}
}

func TestSetContactsOverride(t *testing.T) {
	original := Contacts()
	defer SetContacts(original)

	SetContacts([]EmergencyContact{
		{Name: "Regional Crisis Line", Contact: "0800-111-222", Method: "call"},
	})

	bp := BypassFor("crisis-chat")
	if len(bp.Contacts) != 1 || bp.Contacts[0].Contact != "0800-111-222" {
		t.Errorf("override not applied: %v", bp.Contacts)
	}

	// Empty override is ignored; the previous list stays live.
	SetContacts(nil)
	if got := Contacts(); len(got) != 1 {
		t.Errorf("empty override should be ignored, got %v", got)
	}
}

func TestBypassContactsAreACopy(t *testing.T) {
	bp := BypassFor("crisis-chat")
	bp.Contacts[0].Contact = "tampered"

	if Contacts()[0].Contact == "tampered" {
		t.Error("mutating a payload must not change the canonical list")
	}
}
