package engine

// Outcome is the machine-readable kind of a check decision. It lets
// callers and tests tell a normal allow from a degraded fail-open allow
// without string-matching the reason.
type Outcome string

const (
	// OutcomeNewTopic allows: no tracker exists for the topic yet.
	OutcomeNewTopic Outcome = "new_topic"
	// OutcomeReady allows: the tracker's cooldown has elapsed.
	OutcomeReady Outcome = "ready"
	// OutcomeCooldown blocks: the cooldown is still running.
	OutcomeCooldown Outcome = "cooldown"
	// OutcomeGivenUp blocks: the topic was abandoned after repeated
	// unanswered sends.
	OutcomeGivenUp Outcome = "given_up"
	// OutcomeCheckFailed allows: the check itself failed and the engine
	// failed open. Delivery is never blocked by an internal fault.
	OutcomeCheckFailed Outcome = "check_failed"
)

// Decision is the answer to "may this notification be sent?".
type Decision struct {
	Allowed bool    `json:"allowed"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`

	Topic           string `json:"topic,omitempty"`
	TrackerID       string `json:"tracker_id,omitempty"`
	CooldownMinutes int    `json:"cooldown_minutes,omitempty"`
	NextAllowedAt   int64  `json:"next_allowed_at,omitempty"` // unix millis
	GivenUp         bool   `json:"given_up,omitempty"`
	AttemptCount    int    `json:"attempt_count,omitempty"`
}
