package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

var (
	ErrSessionExpired = errors.New("session expired, please sign in again")
	ErrNoSession      = errors.New("no access token configured")
	ErrEmptyResponse  = errors.New("backend returned no data")
)

// APIError is a request the backend answered and rejected. Message is the
// server's own text and may be shown to the patient.
type APIError struct {
	StatusCode int
	Message    string
	Op         string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// TransportError is a request that never got an HTTP answer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Connectivity reports whether the failure means the backend could not be
// reached (dial, DNS, refused, reset, timeout). A caller-side cancellation is
// not a connectivity failure.
func (e *TransportError) Connectivity() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(e.Err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(e.Err, &opErr) {
		return true
	}
	if errors.Is(e.Err, syscall.ECONNREFUSED) || errors.Is(e.Err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(e.Err, &urlErr)
}

// IsConnectivity reports whether err is, or wraps, a connectivity failure.
func IsConnectivity(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Connectivity()
}

// APIMessage returns the server message carried by err, if any.
func APIMessage(err error) (string, bool) {
	var ae *APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message, true
	}
	return "", false
}
