package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the backend did not answer within the per-call
	// timeout. For Start the job state is unknown; for Check the job is
	// most likely still running.
	ErrTimeout = errors.New("inference request timed out")

	// ErrMalformedResponse means the backend answered with a body that does
	// not match the wire contract.
	ErrMalformedResponse = errors.New("inference response is malformed")
)

// StatusError is a non-2xx answer from the backend. Retryable statuses are
// only surfaced once the retry budget is spent.
type StatusError struct {
	Code      int
	Body      string
	Retryable bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference: unexpected status %d: %s", e.Code, e.Body)
}

// LogicalError is a nominally successful answer whose message reports an
// error.
type LogicalError struct {
	Message string
}

func (e *LogicalError) Error() string {
	return fmt.Sprintf("inference: response looks like an error: %q", e.Message)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
