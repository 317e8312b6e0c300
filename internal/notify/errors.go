package notify

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrBackendUnavailable = errors.New("backend: host unreachable or transport failure")
	ErrBackendRejected    = errors.New("backend: request rejected (4xx)")
	ErrBackendError       = errors.New("backend: internal error (5xx)")
	ErrTimeout            = errors.New("backend: request timed out")
)

// NotifyError wraps the sentinel errors with request context.
type NotifyError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *NotifyError) Error() string {
	msg := fmt.Sprintf("notify: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *NotifyError) Unwrap() error {
	return e.Sentinel
}
