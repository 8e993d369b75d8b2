package registry

import "errors"

// ErrConnectionNotFound is returned when an operation targets a connection
// id that is not (or no longer) registered.
var ErrConnectionNotFound = errors.New("connection not found")
