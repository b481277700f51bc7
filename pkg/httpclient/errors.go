package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports a request that kept failing with a retryable
// status after the retry budget was spent. RetryAfter carries the wait
// the next attempt would have used, so a caller with a longer deadline
// can schedule its own retry.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	// Attempts is how many times the request was actually sent.
	Attempts int
	Err      error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the failure as safe to reissue once RetryAfter has
// elapsed.
func (e *RetryableError) IsRetryable() bool {
	return true
}
