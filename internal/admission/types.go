package admission

import "time"

// Kind classifies an admission decision.
type Kind int

const (
	// KindAllowed admits the request.
	KindAllowed Kind = iota
	// KindQuotaExceeded rejects for exhausted daily quota.
	KindQuotaExceeded
	// KindRateLimited rejects for exceeding the per-second rate.
	KindRateLimited
)

// Decision describes the outcome of an admission check.
type Decision struct {
	Kind           Kind
	QuotaRemaining int           // Daily quota left, -1 = unlimited; untouched count on quota rejection.
	RetryAfter     time.Duration // Wait hint for rate-limited rejections.
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Kind == KindAllowed
}

// quotaUnlimited marks a subscription with no daily cap.
const quotaUnlimited = -1

// quotaResult values below zero carry special meanings from the quota
// stores: -1 is unlimited, and insufficiency encodes the untouched
// remaining count as quotaResultInsufficient-remaining.
const (
	quotaResultUnlimited    = -1
	quotaResultInsufficient = -2
)
