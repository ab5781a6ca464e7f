package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "topic_trackers: per-user per-topic backoff state",
		SQL: `
CREATE TABLE topic_trackers (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    topic              TEXT NOT NULL,
    category           TEXT NOT NULL DEFAULT 'general'
        CHECK (category IN ('health', 'mental', 'productivity', 'goals', 'habits',
                            'relationships', 'learning', 'financial', 'system', 'general')),

    -- Content markers
    last_content_hash  TEXT NOT NULL DEFAULT '',
    sample_messages    TEXT NOT NULL DEFAULT '[]',

    -- Backoff state
    attempt_count      INTEGER NOT NULL DEFAULT 0,
    cooldown_minutes   INTEGER NOT NULL DEFAULT 60,
    next_allowed_at    INTEGER NOT NULL DEFAULT 0,
    max_attempts       INTEGER NOT NULL DEFAULT 5,
    given_up           INTEGER NOT NULL DEFAULT 0,

    -- Engagement
    last_user_response INTEGER,
    response_count     INTEGER NOT NULL DEFAULT 0,

    -- Lifetime counters
    total_sent         INTEGER NOT NULL DEFAULT 0,
    total_blocked      INTEGER NOT NULL DEFAULT 0,

    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL,

    UNIQUE (user_id, topic)
);

CREATE INDEX idx_trackers_user_updated ON topic_trackers(user_id, updated_at DESC);
CREATE INDEX idx_trackers_given_up     ON topic_trackers(given_up);
`,
	},
	{
		Version:     2,
		Description: "notification_links: sent notification to tracker mapping",
		SQL: `
CREATE TABLE notification_links (
    notification_id TEXT PRIMARY KEY,
    tracker_id      TEXT NOT NULL,
    created_at      INTEGER NOT NULL,

    FOREIGN KEY (tracker_id) REFERENCES topic_trackers(id) ON DELETE CASCADE
);

CREATE INDEX idx_links_tracker ON notification_links(tracker_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
