package inference

import "fmt"

// Kind classifies a scoring call failure. The pipeline branches on it:
// a rate limit activates backoff, everything else is surfaced and left
// for the next telemetry batch to retry naturally.
type Kind int

const (
	// KindRateLimited: upstream explicitly signaled throttling (HTTP 429).
	KindRateLimited Kind = iota + 1
	// KindUpstream: upstream reachable but returned a failure status.
	KindUpstream
	// KindUnreachable: no response (timeout or network failure).
	KindUnreachable
	// KindCancelled: the caller's context ended while waiting.
	KindCancelled
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_error"
	case KindUnreachable:
		return "unreachable"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the only error type Score returns.
type Error struct {
	Kind   Kind
	Status int    // HTTP status when the upstream responded
	Body   string // truncated response body for failure statuses
	Err    error  // underlying transport or decode error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("inference %s (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("inference %s: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("inference %s: status %d", e.Kind, e.Status)
	default:
		return "inference " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }
