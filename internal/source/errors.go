package source

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrNotFound means the source has no record for the part. The tier is
// exhausted; the orchestrator advances immediately without retrying.
var ErrNotFound = eris.New("source: part not found")

// Error wraps a source failure with its retry classification. Transient
// failures (network, 5xx, timeouts) are retried within the tier; permanent
// failures advance to the next tier immediately.
type Error struct {
	Source     string
	Err        error
	Transient  bool
	StatusCode int
}

func (e *Error) Error() string {
	return e.Source + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable source failure.
func NewTransient(source string, err error, statusCode int) *Error {
	return &Error{Source: source, Err: err, Transient: true, StatusCode: statusCode}
}

// NewPermanent wraps err as a non-retryable source failure.
func NewPermanent(source string, err error, statusCode int) *Error {
	return &Error{Source: source, Err: err, Transient: false, StatusCode: statusCode}
}

// IsNotFound reports whether err (or its chain) is a source miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is safe to retry within the same tier.
// Explicit classification wins; otherwise network-level timeouts,
// connection failures, and common wrapped transport errors count as
// transient. A supplier-level timeout is transient for its tier.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Transient
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
		"context deadline exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// transientStatus reports whether an HTTP status indicates a server-side
// condition worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// classifyStatus converts a non-2xx supplier response into the right
// error: 404 is a miss, retryable statuses are transient, the rest are
// permanent.
func classifyStatus(sourceName string, code int, body []byte) error {
	if code == http.StatusNotFound {
		return ErrNotFound
	}
	err := eris.Errorf("%s: status %d: %s", sourceName, code, truncate(string(body), 200))
	if transientStatus(code) {
		return NewTransient(sourceName, err, code)
	}
	return NewPermanent(sourceName, err, code)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
