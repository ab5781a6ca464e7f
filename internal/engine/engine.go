// Package engine decides, per user and per semantically-identified topic,
// whether a candidate notification may be delivered. It tracks
// exponentially increasing cooldowns and permanently gives up on topics
// the user never engages with.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lazypower/hush/internal/classifier"
	"github.com/lazypower/hush/internal/store"
)

// TrackerStore is the persistence contract the engine needs. *store.DB
// satisfies it; tests may substitute fakes.
type TrackerStore interface {
	GetTrackerByID(id string) (*store.TopicTracker, error)
	GetTrackerByUserTopic(userID, topic string) (*store.TopicTracker, error)
	ListRecentTrackers(userID string, sinceDays, limit int, now int64) ([]store.TopicTracker, error)
	ListUserTrackers(userID string, includeGivenUp bool) ([]store.TopicTracker, error)
	CreateOrIncrementOnSend(p store.SendUpsert) (*store.TopicTracker, error)
	UpdateOnSend(t *store.TopicTracker) error
	ResetTrackerByID(id string, cooldownMinutes int, now int64) (bool, error)
	ResetTrackerByUserTopic(userID, topic string, cooldownMinutes int, now int64) (bool, error)
	IncrementBlocked(id string, now int64) error
	LinkNotification(notificationID, trackerID string, now int64) error
	TrackerIDForNotification(notificationID string) (string, error)
}

// Engine is the spam decision engine. Construct with New; all durable
// state lives in the store, so one engine value is safe for concurrent
// requests.
type Engine struct {
	Store      TrackerStore
	Classifier classifier.Classifier
	Policy     Policy

	now func() time.Time
}

// New creates an Engine with the given collaborators.
func New(st TrackerStore, cls classifier.Classifier, policy Policy) *Engine {
	return &Engine{
		Store:      st,
		Classifier: cls,
		Policy:     policy,
		now:        time.Now,
	}
}

// CheckNotification answers "may this notification be sent?". It never
// blocks delivery because of an internal fault: any failure during the
// check produces an allow with OutcomeCheckFailed. It does not advance the
// backoff — only RecordNotificationSent does.
func (e *Engine) CheckNotification(ctx context.Context, userID, title, message, sourceType string) Decision {
	d, err := e.check(ctx, userID, title, message, sourceType)
	if err != nil {
		log.Printf("check: user %s: failing open: %v", userID, err)
		return Decision{
			Allowed: true,
			Outcome: OutcomeCheckFailed,
			Reason:  "spam check failed, allowing delivery",
		}
	}
	return d
}

func (e *Engine) check(ctx context.Context, userID, title, message, sourceType string) (Decision, error) {
	result, err := e.classify(ctx, userID, title, message, sourceType)
	if err != nil {
		return Decision{}, err
	}

	tracker, err := e.resolveTracker(userID, result)
	if err != nil {
		return Decision{}, err
	}

	if tracker == nil {
		return Decision{
			Allowed: true,
			Outcome: OutcomeNewTopic,
			Reason:  fmt.Sprintf("New topic %q, no send history", result.Topic),
			Topic:   result.Topic,
		}, nil
	}

	if tracker.GivenUp {
		return Decision{
			Allowed:      false,
			Outcome:      OutcomeGivenUp,
			Reason:       fmt.Sprintf("Topic %q abandoned after %d unanswered notifications", tracker.Topic, tracker.MaxAttempts),
			Topic:        tracker.Topic,
			TrackerID:    tracker.ID,
			GivenUp:      true,
			AttemptCount: tracker.AttemptCount,
		}, nil
	}

	now := e.now().UnixMilli()
	if now < tracker.NextAllowedAt {
		// A check that blocks is itself a blocked attempt.
		if err := e.Store.IncrementBlocked(tracker.ID, now); err != nil {
			return Decision{}, err
		}
		return Decision{
			Allowed:         false,
			Outcome:         OutcomeCooldown,
			Reason:          fmt.Sprintf("Topic %q cooling down for %d more minutes", tracker.Topic, (tracker.NextAllowedAt-now)/60000+1),
			Topic:           tracker.Topic,
			TrackerID:       tracker.ID,
			CooldownMinutes: tracker.CooldownMinutes,
			NextAllowedAt:   tracker.NextAllowedAt,
			AttemptCount:    tracker.AttemptCount,
		}, nil
	}

	return Decision{
		Allowed:         true,
		Outcome:         OutcomeReady,
		Reason:          fmt.Sprintf("Topic %q cooldown elapsed", tracker.Topic),
		Topic:           tracker.Topic,
		TrackerID:       tracker.ID,
		CooldownMinutes: tracker.CooldownMinutes,
		AttemptCount:    tracker.AttemptCount,
	}, nil
}

// RecordNotificationSent advances the backoff for a notification that was
// actually delivered and links the notification id to its tracker. Returns
// the tracker id. Callers must not surface an error to users — the
// notification is already out.
func (e *Engine) RecordNotificationSent(ctx context.Context, userID, title, message, notificationID, sourceType string) (string, error) {
	result, err := e.classify(ctx, userID, title, message, sourceType)
	if err != nil {
		return "", err
	}

	tracker, err := e.resolveTracker(userID, result)
	if err != nil {
		return "", err
	}

	now := e.now().UnixMilli()

	if tracker != nil {
		tracker.AttemptCount++
		tracker.CooldownMinutes = NextCooldown(tracker.CooldownMinutes, e.Policy.CooldownMultiplier, e.Policy.MaxCooldownMinutes)
		tracker.NextAllowedAt = NextAllowedAt(now, tracker.CooldownMinutes)
		tracker.GivenUp = ShouldGiveUp(tracker.AttemptCount, tracker.MaxAttempts, tracker.ResponseCount)
		tracker.Category = result.Category
		tracker.LastContentHash = classifier.ContentHash(title, message)
		tracker.SampleMessages = appendCapped(tracker.SampleMessages, message, e.Policy.MaxSampleMessages)
		tracker.TotalSent++
		tracker.UpdatedAt = now

		if err := e.Store.UpdateOnSend(tracker); err != nil {
			return "", err
		}
	} else {
		// No prior resolution: the atomic create-or-increment guards the
		// concurrent-first-send race for a brand-new topic.
		tracker, err = e.Store.CreateOrIncrementOnSend(store.SendUpsert{
			UserID:          userID,
			Topic:           result.Topic,
			Category:        result.Category,
			ContentHash:     classifier.ContentHash(title, message),
			Message:         message,
			CooldownMinutes: e.Policy.InitialCooldownMinutes,
			NextAllowedAt:   NextAllowedAt(now, e.Policy.InitialCooldownMinutes),
			MaxAttempts:     e.Policy.MaxAttempts,
			MaxSamples:      e.Policy.MaxSampleMessages,
			Now:             now,
		})
		if err != nil {
			return "", err
		}
	}

	if notificationID != "" {
		if err := e.Store.LinkNotification(notificationID, tracker.ID, now); err != nil {
			return "", err
		}
	}

	return tracker.ID, nil
}

// RespondByNotification applies the engagement reset to the tracker linked
// to a delivered notification. Returns false if the notification was never
// linked or belongs to another user.
func (e *Engine) RespondByNotification(userID, notificationID string) (bool, error) {
	trackerID, err := e.Store.TrackerIDForNotification(notificationID)
	if err != nil {
		return false, err
	}
	if trackerID == "" {
		return false, nil
	}

	tracker, err := e.Store.GetTrackerByID(trackerID)
	if err != nil {
		return false, err
	}
	if tracker == nil || tracker.UserID != userID {
		return false, nil
	}

	return e.Store.ResetTrackerByID(trackerID, e.Policy.InitialCooldownMinutes, e.now().UnixMilli())
}

// RespondByTopic applies the engagement reset by exact (user, topic) match.
func (e *Engine) RespondByTopic(userID, topic string) (bool, error) {
	return e.Store.ResetTrackerByUserTopic(userID, topic, e.Policy.InitialCooldownMinutes, e.now().UnixMilli())
}

// RecordUserResponse resolves ref first as a notification id, then as a
// literal topic string, and resets whichever tracker matches. Nothing
// resolving is a logged no-op, not an error.
func (e *Engine) RecordUserResponse(userID, ref string) error {
	ok, err := e.RespondByNotification(userID, ref)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ok, err = e.RespondByTopic(userID, ref)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("respond: user %s: %q matched no notification or topic", userID, ref)
	}
	return nil
}

// ReviveTopic unconditionally resets a tracker so an abandoned topic can
// be heard about again. Returns whether a tracker was affected. Resetting
// an already-active tracker is a valid no-surprise operation.
func (e *Engine) ReviveTopic(userID, topic string) (bool, error) {
	return e.Store.ResetTrackerByUserTopic(userID, topic, e.Policy.InitialCooldownMinutes, e.now().UnixMilli())
}

// UserTopicTrackers returns all trackers for a user, most recently updated
// first.
func (e *Engine) UserTopicTrackers(userID string, includeGivenUp bool) ([]store.TopicTracker, error) {
	return e.Store.ListUserTrackers(userID, includeGivenUp)
}

// classify builds the recent-topic context and runs the classifier.
func (e *Engine) classify(ctx context.Context, userID, title, message, sourceType string) (*classifier.Result, error) {
	if e.Classifier == nil {
		return nil, fmt.Errorf("no classifier configured")
	}

	recent, err := e.Store.ListRecentTrackers(userID, e.Policy.LookbackDays, e.Policy.MaxRecentTrackers, e.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	req := classifier.Request{
		UserID:     userID,
		Title:      title,
		Message:    message,
		SourceType: sourceType,
	}
	for _, t := range recent {
		samples := t.SampleMessages
		if len(samples) > 2 {
			samples = samples[len(samples)-2:]
		}
		req.Recent = append(req.Recent, classifier.RecentTopic{
			TrackerID: t.ID,
			Topic:     t.Topic,
			Category:  t.Category,
			Samples:   samples,
		})
	}

	result, err := e.Classifier.Classify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return result, nil
}

// resolveTracker prefers the classifier's matched tracker, then falls back
// to an exact (user, topic) lookup.
func (e *Engine) resolveTracker(userID string, result *classifier.Result) (*store.TopicTracker, error) {
	if result.MatchedTrackerID != "" {
		tracker, err := e.Store.GetTrackerByID(result.MatchedTrackerID)
		if err != nil {
			return nil, err
		}
		if tracker != nil && tracker.UserID == userID {
			return tracker, nil
		}
	}
	return e.Store.GetTrackerByUserTopic(userID, result.Topic)
}

// appendCapped appends msg and drops the oldest entries beyond max.
func appendCapped(samples []string, msg string, max int) []string {
	samples = append(samples, msg)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}
