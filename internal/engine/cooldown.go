package engine

import "time"

// Policy holds the backoff tuning knobs. All fields must be positive; use
// DefaultPolicy or config loading, which guarantee that.
type Policy struct {
	InitialCooldownMinutes int
	CooldownMultiplier     int
	MaxCooldownMinutes     int
	MaxAttempts            int
	LookbackDays           int
	MaxSampleMessages      int
	MaxRecentTrackers      int
}

// DefaultPolicy returns the stock backoff policy: 1h initial cooldown
// doubling to a 7-day cap, giving up after 5 unanswered sends.
func DefaultPolicy() Policy {
	return Policy{
		InitialCooldownMinutes: 60,
		CooldownMultiplier:     2,
		MaxCooldownMinutes:     10080,
		MaxAttempts:            5,
		LookbackDays:           7,
		MaxSampleMessages:      5,
		MaxRecentTrackers:      10,
	}
}

// NextCooldown advances a cooldown one backoff step: current times the
// multiplier, capped at max.
func NextCooldown(current, multiplier, max int) int {
	next := current * multiplier
	if next > max {
		return max
	}
	return next
}

// NextAllowedAt returns the earliest send time after a cooldown, in unix
// millis.
func NextAllowedAt(now int64, cooldownMinutes int) int64 {
	return now + int64(cooldownMinutes)*int64(time.Minute/time.Millisecond)
}

// ShouldGiveUp reports whether a topic should be abandoned: the send that
// just happened reached the attempt limit and the user has never engaged.
func ShouldGiveUp(attemptCount, maxAttempts, responseCount int) bool {
	return attemptCount >= maxAttempts && responseCount == 0
}
