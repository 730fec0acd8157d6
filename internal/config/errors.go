package config

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared across the gateway.
var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUpstreamDecode   = errors.New("upstream response decode failed")
	ErrRateLimited      = errors.New("upstream rate limit exceeded")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// UpstreamHTTPError is returned when an upstream explorer answers with a
// non-2xx status.
type UpstreamHTTPError struct {
	Status int
	URL    string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream HTTP %d from %s", e.Status, e.URL)
}

// IsTransient reports whether err is worth retrying: network failures,
// retryable HTTP statuses, and explicit rate limiting. Decode errors and
// context cancellation are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var httpErr *UpstreamHTTPError
	if errors.As(err, &httpErr) {
		// The explorer APIs routinely answer 4xx during brief outages, so
		// every non-2xx goes through the backoff before surfacing.
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Error codes surfaced in API error envelopes.
const (
	ErrorUnsupportedChain    = "ERROR_UNSUPPORTED_CHAIN"
	ErrorInvalidArgument     = "ERROR_INVALID_ARGUMENT"
	ErrorUpstreamUnavailable = "ERROR_UPSTREAM_UNAVAILABLE"
	ErrorInvalidAddress      = "ERROR_INVALID_ADDRESS"
)
