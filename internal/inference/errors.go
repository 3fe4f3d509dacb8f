package inference

import "errors"

// Failure taxonomy for calls through the inference client.
var (
	// ErrRateLimited means the upstream signalled throttling; the limiter has
	// already been penalized and the work is retry-eligible.
	ErrRateLimited = errors.New("inference endpoint rate limited")
	// ErrCircuitOpen means the breaker short-circuited the call before any
	// network activity. Retry after the cooldown, not immediately.
	ErrCircuitOpen = errors.New("inference circuit open")
	// ErrUpstream covers 5xx and network-level failures; transient.
	ErrUpstream = errors.New("inference upstream error")
	// ErrTimeout is a bounded-timeout expiry; treated like ErrUpstream.
	ErrTimeout = errors.New("inference request timeout")
	// ErrInvalidResponse means the payload did not match the expected schema.
	// Never cached, never auto-retried; requires investigation.
	ErrInvalidResponse = errors.New("inference returned invalid response")
)

// Transient reports whether the failure may succeed on a later attempt
// without intervention.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrTimeout)
}
