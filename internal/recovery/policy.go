package recovery

import (
	"math"
	"time"
)

// Tier classifies how life-critical an operation is. The tier decides how
// aggressively the engine retries and whether exhaustion degrades to the
// emergency bypass instead of surfacing an error.
type Tier string

const (
	TierCriticalCrisis Tier = "critical_crisis"
	TierHighCrisis     Tier = "high_crisis"
	TierMediumSupport  Tier = "medium_support"
	TierLowGeneral     Tier = "low_general"
)

// Policy holds the retry/backoff/timeout parameters for one tier.
type Policy struct {
	MaxRetries             int
	BaseDelay              time.Duration
	MaxDelay               time.Duration
	BackoffMultiplier      float64
	Timeout                time.Duration
	FallbackEnabled        bool
	EmergencyBypassEnabled bool
}

// policies is the fixed tier table. Values are not configurable at runtime:
// the whole point of the table is that a deploy-time review decided how hard
// each tier fights before giving up.
var policies = map[Tier]Policy{
	TierCriticalCrisis: {
		MaxRetries:             5,
		BaseDelay:              100 * time.Millisecond,
		MaxDelay:               2000 * time.Millisecond,
		BackoffMultiplier:      2.0,
		Timeout:                5000 * time.Millisecond,
		FallbackEnabled:        true,
		EmergencyBypassEnabled: true,
	},
	TierHighCrisis: {
		MaxRetries:        4,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5000 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           10000 * time.Millisecond,
		FallbackEnabled:   true,
	},
	TierMediumSupport: {
		MaxRetries:        3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10000 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           15000 * time.Millisecond,
		FallbackEnabled:   true,
	},
	TierLowGeneral: {
		MaxRetries:        2,
		BaseDelay:         1000 * time.Millisecond,
		MaxDelay:          30000 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Timeout:           30000 * time.Millisecond,
		FallbackEnabled:   true,
	},
}

// PolicyFor returns the policy for a tier. Unknown tiers get the most
// conservative (lowest) tier rather than an error: a misclassified caller
// should still be retried, just not aggressively.
func PolicyFor(tier Tier) Policy {
	if p, ok := policies[tier]; ok {
		return p
	}
	return policies[TierLowGeneral]
}

// DelayForAttempt computes the backoff delay that follows the given failed
// attempt (1-based): min(maxDelay, baseDelay * multiplier^(attempt-1)).
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
