package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TopicTracker is the per-(user, topic) backoff and engagement record.
type TopicTracker struct {
	ID               string
	UserID           string
	Topic            string
	Category         string
	LastContentHash  string
	SampleMessages   []string // newest last, capped
	AttemptCount     int
	CooldownMinutes  int
	NextAllowedAt    int64 // unix millis
	MaxAttempts      int
	GivenUp          bool
	LastUserResponse *int64
	ResponseCount    int
	TotalSent        int
	TotalBlocked     int
	CreatedAt        int64
	UpdatedAt        int64
}

const trackerColumns = `id, user_id, topic, category, last_content_hash, sample_messages,
		attempt_count, cooldown_minutes, next_allowed_at, max_attempts, given_up,
		last_user_response, response_count, total_sent, total_blocked, created_at, updated_at`

// SendUpsert carries the parameters for CreateOrIncrementOnSend. The
// initial-state fields only apply when the row does not exist yet.
type SendUpsert struct {
	UserID      string
	Topic       string
	Category    string
	ContentHash string
	Message     string

	// Initial state for a brand-new tracker
	CooldownMinutes int
	NextAllowedAt   int64
	MaxAttempts     int

	MaxSamples int
	Now        int64
}

// CreateOrIncrementOnSend records a confirmed send as a single atomic
// statement keyed on the unique (user_id, topic) pair: a missing row is
// created with attempt_count=1 and total_sent=1; an existing row gets both
// counters incremented and the message appended to sample_messages (capped,
// oldest dropped). This is the only guard against two concurrent first
// sends racing to create the same tracker — never replace it with a
// read-then-write sequence.
func (db *DB) CreateOrIncrementOnSend(p SendUpsert) (*TopicTracker, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO topic_trackers (
			id, user_id, topic, category, last_content_hash, sample_messages,
			attempt_count, cooldown_minutes, next_allowed_at, max_attempts,
			total_sent, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, json_array(?), 1, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, topic) DO UPDATE SET
			attempt_count     = attempt_count + 1,
			total_sent        = total_sent + 1,
			last_content_hash = excluded.last_content_hash,
			sample_messages   = CASE
				WHEN json_array_length(sample_messages) >= ?
				THEN json_remove(json_insert(sample_messages, '$[#]',
					json_extract(excluded.sample_messages, '$[0]')), '$[0]')
				ELSE json_insert(sample_messages, '$[#]',
					json_extract(excluded.sample_messages, '$[0]'))
			END,
			updated_at        = excluded.updated_at
	`, id, p.UserID, p.Topic, p.Category, p.ContentHash, p.Message,
		p.CooldownMinutes, p.NextAllowedAt, p.MaxAttempts, p.Now, p.Now,
		p.MaxSamples)
	if err != nil {
		return nil, fmt.Errorf("create or increment tracker: %w", err)
	}

	// Re-read after the atomic write; the row is guaranteed to exist now.
	tracker, err := db.GetTrackerByUserTopic(p.UserID, p.Topic)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker missing after upsert for %s/%s", p.UserID, p.Topic)
	}
	return tracker, nil
}

// GetTrackerByID returns a tracker by its ID, or nil if not found.
func (db *DB) GetTrackerByID(id string) (*TopicTracker, error) {
	row := db.QueryRow(`SELECT `+trackerColumns+` FROM topic_trackers WHERE id = ?`, id)
	return scanTracker(row)
}

// GetTrackerByUserTopic returns the tracker for an exact (user, topic)
// pair, or nil if not found.
func (db *DB) GetTrackerByUserTopic(userID, topic string) (*TopicTracker, error) {
	row := db.QueryRow(
		`SELECT `+trackerColumns+` FROM topic_trackers WHERE user_id = ? AND topic = ?`,
		userID, topic)
	return scanTracker(row)
}

// ListRecentTrackers returns the user's most recently updated non-given-up
// trackers touched within the last sinceDays days, newest first. Used to
// build classifier context.
func (db *DB) ListRecentTrackers(userID string, sinceDays, limit int, now int64) ([]TopicTracker, error) {
	cutoff := now - int64(sinceDays)*24*60*60*1000
	rows, err := db.Query(`
		SELECT `+trackerColumns+` FROM topic_trackers
		WHERE user_id = ? AND given_up = 0 AND updated_at >= ?
		ORDER BY updated_at DESC LIMIT ?
	`, userID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent trackers: %w", err)
	}
	defer rows.Close()
	return scanTrackers(rows)
}

// ListUserTrackers returns all trackers for a user, most recently updated
// first, optionally excluding given-up ones.
func (db *DB) ListUserTrackers(userID string, includeGivenUp bool) ([]TopicTracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM topic_trackers WHERE user_id = ?`
	if !includeGivenUp {
		query += ` AND given_up = 0`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user trackers: %w", err)
	}
	defer rows.Close()
	return scanTrackers(rows)
}

// UpdateOnSend persists the post-send state computed by the decision engine
// for an already-resolved tracker: new backoff, counters, content markers.
func (db *DB) UpdateOnSend(t *TopicTracker) error {
	samples, err := json.Marshal(t.SampleMessages)
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}

	_, err = db.Exec(`
		UPDATE topic_trackers SET
			category = ?, last_content_hash = ?, sample_messages = ?,
			attempt_count = ?, cooldown_minutes = ?, next_allowed_at = ?,
			given_up = ?, total_sent = ?, updated_at = ?
		WHERE id = ?
	`, t.Category, t.LastContentHash, string(samples),
		t.AttemptCount, t.CooldownMinutes, t.NextAllowedAt,
		boolToInt(t.GivenUp), t.TotalSent, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update tracker on send: %w", err)
	}
	return nil
}

// ResetTrackerByID applies the unconditional engagement reset: counters
// cleared, cooldown back to the initial value, immediately allowed.
// Returns true if a row was affected.
func (db *DB) ResetTrackerByID(id string, cooldownMinutes int, now int64) (bool, error) {
	result, err := db.Exec(resetSQL+` WHERE id = ?`, now, cooldownMinutes, now, now, id)
	if err != nil {
		return false, fmt.Errorf("reset tracker %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ResetTrackerByUserTopic is ResetTrackerByID keyed on the exact
// (user, topic) pair.
func (db *DB) ResetTrackerByUserTopic(userID, topic string, cooldownMinutes int, now int64) (bool, error) {
	result, err := db.Exec(resetSQL+` WHERE user_id = ? AND topic = ?`,
		now, cooldownMinutes, now, now, userID, topic)
	if err != nil {
		return false, fmt.Errorf("reset tracker %s/%s: %w", userID, topic, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

const resetSQL = `
	UPDATE topic_trackers SET
		last_user_response = ?, response_count = response_count + 1,
		cooldown_minutes = ?, attempt_count = 0, given_up = 0,
		next_allowed_at = ?, updated_at = ?`

// IncrementBlocked bumps the lifetime blocked counter. A blocked check is
// activity on the topic, so updated_at advances too.
func (db *DB) IncrementBlocked(id string, now int64) error {
	_, err := db.Exec(`
		UPDATE topic_trackers SET total_blocked = total_blocked + 1, updated_at = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("increment blocked %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracker(row rowScanner) (*TopicTracker, error) {
	var t TopicTracker
	var samples string
	var givenUp int
	var lastResponse sql.NullInt64
	err := row.Scan(&t.ID, &t.UserID, &t.Topic, &t.Category, &t.LastContentHash, &samples,
		&t.AttemptCount, &t.CooldownMinutes, &t.NextAllowedAt, &t.MaxAttempts, &givenUp,
		&lastResponse, &t.ResponseCount, &t.TotalSent, &t.TotalBlocked, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tracker: %w", err)
	}

	t.GivenUp = givenUp != 0
	if lastResponse.Valid {
		t.LastUserResponse = &lastResponse.Int64
	}
	if err := json.Unmarshal([]byte(samples), &t.SampleMessages); err != nil {
		return nil, fmt.Errorf("decode samples for %s: %w", t.ID, err)
	}
	return &t, nil
}

func scanTrackers(rows *sql.Rows) ([]TopicTracker, error) {
	var trackers []TopicTracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, *t)
	}
	return trackers, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
