package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrContentNotFound signals that a rendered page never showed the quote list.
// The orchestrator treats it as a page with zero candidates, not a fetch failure.
var ErrContentNotFound = errors.New("quote list not found")

// PlanningError reports malformed crawl input. It is fatal and raised before any fetch.
type PlanningError struct {
	Field  string
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// HTTPStatusError is returned by fetchers for non-2xx responses.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// FetchError wraps a per-page fetch failure with the URL and mode that failed.
type FetchError struct {
	URL  string
	Mode FetchMode
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch %s: %v", e.Mode, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SinkError wraps a sink failure. It aborts the run; records already pushed stay pushed.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink push: %v", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 when it carries none.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
