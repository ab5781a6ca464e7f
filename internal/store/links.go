package store

import (
	"database/sql"
	"fmt"
)

// LinkNotification associates a delivered notification with the tracker
// that absorbed it. Re-linking the same notification overwrites the
// previous association (recordNotificationSent may be retried).
func (db *DB) LinkNotification(notificationID, trackerID string, now int64) error {
	_, err := db.Exec(`
		INSERT INTO notification_links (notification_id, tracker_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(notification_id) DO UPDATE SET
			tracker_id = excluded.tracker_id
	`, notificationID, trackerID, now)
	if err != nil {
		return fmt.Errorf("link notification %s: %w", notificationID, err)
	}
	return nil
}

// TrackerIDForNotification resolves a notification id to its tracker id.
// Returns "" if the notification was never linked.
func (db *DB) TrackerIDForNotification(notificationID string) (string, error) {
	var trackerID string
	err := db.QueryRow(`
		SELECT tracker_id FROM notification_links WHERE notification_id = ?
	`, notificationID).Scan(&trackerID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup notification %s: %w", notificationID, err)
	}
	return trackerID, nil
}
