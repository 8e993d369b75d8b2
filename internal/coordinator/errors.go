package coordinator

import (
	"errors"
	"fmt"
)

// Error taxonomy: validation errors reject the single operation and never
// the connection; transient errors are retried by the recovery engine;
// exhaustion either degrades to the emergency bypass (crisis tiers) or
// propagates unwrapped.
var (
	ErrSessionNotFound          = errors.New("session not found")
	ErrSessionResolved          = errors.New("session already resolved")
	ErrNoVolunteersAvailable    = errors.New("no available volunteers")
	ErrNoProfessionalsAvailable = errors.New("no available professionals")
	ErrNoDispatchCollaborator   = errors.New("emergency dispatch collaborator not configured")
)

// ValidationError marks a malformed or out-of-bounds inbound payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
