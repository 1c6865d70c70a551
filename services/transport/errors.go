package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindHostUnreachable  ErrorKind = "host_unreachable"
	KindProtocol         ErrorKind = "protocol"
	KindExhaustedRetries ErrorKind = "exhausted_retries"
)

// NetError is the transport's terminal error: the kind, the URL the
// request targeted, and the underlying cause.
type NetError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *NetError) Error() string {
	return fmt.Sprintf("transport %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *NetError) Unwrap() error { return e.Err }

// statusError wraps a retryable HTTP status so the retry loop can treat it
// like a transient network failure.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d %s", e.Code, http.StatusText(e.Code))
}

// ErrBodyTooLarge aborts a streamed download past its byte ceiling.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// isRetryableStatus covers the transient HTTP codes worth another attempt.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryable reports whether an attempt failure is transient: retryable
// HTTP statuses, connect timeouts, unresolved hosts, and generic I/O
// failures. Everything else is terminal.
func isRetryable(err error) bool {
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// classify maps a terminal attempt error onto the NetError taxonomy.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindHostUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindHostUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindProtocol
}
