package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a customer or record does not resolve.
var ErrNotFound = errors.New("record not found")

// DataAccessError wraps a failed history or persistence read. A detector that
// cannot complete its read surfaces this instead of a zero score, so callers
// never mistake an outage for a clean customer.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access failed during %s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// ValidationError reports malformed input, such as a negative threshold or an
// oversized batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigError reports an unknown or unsupported configuration key.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown configuration key %q", e.Key)
}
