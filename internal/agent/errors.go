package agent

import (
	"fmt"
	"unicode/utf8"
)

// TransportError means the remote agent API could not be reached or answered with a non-success status
type TransportError struct {
	Op         string // "create", "poll" or "followup"
	StatusCode int    // 0 when no HTTP response was received
	Body       string // truncated response body
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent %s failed: status=%d, body=%s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("agent %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError means the remote agent answered, but the body did not have a recognized shape
type ParseError struct {
	Op   string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("agent %s returned an unrecognized response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// truncateString shortens s to at most maxLen bytes for logs and error messages,
// cutting on a rune boundary
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
