package agentruntime

import (
	"fmt"
	"time"
)

// APIError is a non-2xx response from the agent service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent service request failed with status %d: %s (code: %s)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("agent service request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the service answered 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}

// TimeoutError means a run exceeded its polling deadline. The driver
// attempts a best-effort cancel before returning it; partial tool results
// gathered up to the deadline travel alongside in the RunResult.
type TimeoutError struct {
	ThreadID string
	RunID    string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s on thread %s timed out after %s", e.RunID, e.ThreadID, e.Elapsed.Round(time.Millisecond))
}
