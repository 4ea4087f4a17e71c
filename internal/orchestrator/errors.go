package orchestrator

import "fmt"

// ValidationError rejects a request before any cache or backend access.
// Callers map it to a client error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}
