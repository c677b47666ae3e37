package repository

import "fmt"

// TransportError is returned when a backend call fails after exhausting its
// retry budget: network failure, non-2xx status, or timeout.
type TransportError struct {
	Op         string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed after %d attempt(s) with status %d: %v", e.Op, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
