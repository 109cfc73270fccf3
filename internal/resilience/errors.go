package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// TransientError wraps an error that is safe to retry (5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error chain holds a TransientError or a
// network-level failure worth retrying. Rate limits are never transient: the
// Projects vendor blocks for tens of minutes after a 429.
func IsTransient(err error) bool {
	if err == nil || IsRateLimited(err) || IsAborted(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a status is a retryable server-side
// failure. 429 is deliberately excluded.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// RateLimitError is returned when an upstream answers 429.
type RateLimitError struct {
	Service    string
	URL        string
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited (429) at %s", e.Service, e.URL)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	return msg
}

// IsRateLimited reports whether err carries a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RouteAttempt records the outcome of one base/portal attempt.
type RouteAttempt struct {
	Base     string
	PortalID string
	Status   int
	Err      error
}

func (a RouteAttempt) String() string {
	var b strings.Builder
	b.WriteString(a.Base)
	b.WriteString(" portal=")
	b.WriteString(a.PortalID)
	if a.Status > 0 {
		fmt.Fprintf(&b, " status=%d", a.Status)
	}
	if a.Err != nil {
		b.WriteString(": ")
		b.WriteString(a.Err.Error())
	}
	return b.String()
}

// RouteExhaustedError is returned when every base/portal combination failed.
type RouteExhaustedError struct {
	Endpoint string
	Attempts []RouteAttempt
}

func (e *RouteExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	if len(parts) == 0 {
		return fmt.Sprintf("projects: no route candidates for %s", e.Endpoint)
	}
	return fmt.Sprintf("projects: all %d routes failed for %s: %s",
		len(parts), e.Endpoint, strings.Join(parts, "; "))
}

// IsRouteExhausted reports whether err carries a RouteExhaustedError.
func IsRouteExhausted(err error) bool {
	var re *RouteExhaustedError
	return errors.As(err, &re)
}

// AbortError marks a call abandoned because the caller's context ended.
type AbortError struct {
	Op  string
	Err error
}

func (e *AbortError) Error() string {
	return e.Op + ": aborted: " + e.Err.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Aborted wraps ctx's error so IsAborted recognizes it.
func Aborted(ctx context.Context, op string) error {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	return &AbortError{Op: op, Err: err}
}

// IsAborted reports whether err was caused by caller cancellation.
func IsAborted(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae) || errors.Is(err, context.Canceled)
}
