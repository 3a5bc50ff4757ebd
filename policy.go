package conduit

import (
	"golang.org/x/time/rate"
)

// OverflowPolicy selects what happens when a publish cannot proceed because
// the target buffer is full. Named UnexpectedSituationAction in the Python
// original (puma/unexpected_situation_action.py); spec.md calls it the
// "unexpected-situation policy".
type OverflowPolicy int

const (
	// PolicyIgnore silently drops the item.
	PolicyIgnore OverflowPolicy = iota

	// PolicyWarn drops the item and logs a rate-limited warning.
	PolicyWarn

	// PolicyRaise returns ErrFull to the caller instead of dropping.
	PolicyRaise
)

func (p OverflowPolicy) String() string {
	switch p {
	case PolicyIgnore:
		return "ignore"
	case PolicyWarn:
		return "warn"
	case PolicyRaise:
		return "raise"
	default:
		return "unknown"
	}
}

// warnLogLimiter rate-limits WARN-policy log lines package-wide (one limiter
// shared by every buffer) so a fast
// producer hammering a full buffer cannot flood the log. Grounded on
// golang.org/x/time/rate as used by goadesign-goa-ai's AdaptiveRateLimiter
// (features/model/middleware/ratelimit.go), scaled down to a fixed,
// generous budget since this is a diagnostic guard rather than an
// admission-control mechanism.
var warnLogLimiter = rate.NewLimiter(rate.Limit(2), 5)

// allowWarnLog reports whether a WARN-policy overflow may be logged right
// now; excess occurrences in the same burst are silently dropped (the item
// itself is still dropped/handled per policy regardless of whether we log).
func allowWarnLog() bool {
	return warnLogLimiter.Allow()
}
