package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/hush/internal/classifier"
	"github.com/lazypower/hush/internal/store"
)

// stubClassifier returns a fixed result, a fixed error, or the
// deterministic fallback when neither is set.
type stubClassifier struct {
	result *classifier.Result
	err    error
	calls  int
}

func (s *stubClassifier) Classify(ctx context.Context, req classifier.Request) (*classifier.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		r := *s.result
		return &r, nil
	}
	return classifier.Fallback(req), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testEngine(t *testing.T) (*Engine, *store.DB, *stubClassifier, *testClock) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cls := &stubClassifier{}
	clock := &testClock{now: time.UnixMilli(1700000000000)}
	eng := New(db, cls, DefaultPolicy())
	eng.now = func() time.Time { return clock.now }
	return eng, db, cls, clock
}

func TestCheckNewTopicAllowed(t *testing.T) {
	eng, _, _, _ := testEngine(t)

	d := eng.CheckNotification(context.Background(), "u1", "Drink water", "Time to hydrate", "")
	if !d.Allowed {
		t.Fatalf("new topic should be allowed: %+v", d)
	}
	if d.Outcome != OutcomeNewTopic {
		t.Errorf("outcome = %s, want %s", d.Outcome, OutcomeNewTopic)
	}
	if d.Topic == "" {
		t.Error("expected a topic in the decision")
	}
}

func TestCheckDoesNotCreateTracker(t *testing.T) {
	eng, db, _, _ := testEngine(t)

	eng.CheckNotification(context.Background(), "u1", "Drink water", "Time to hydrate", "")

	trackers, err := db.ListUserTrackers("u1", true)
	if err != nil {
		t.Fatalf("ListUserTrackers: %v", err)
	}
	if len(trackers) != 0 {
		t.Errorf("check created %d trackers, want 0", len(trackers))
	}
}

func TestSendThenBlockedDuringCooldown(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	trackerID, err := eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "n-1", "")
	if err != nil {
		t.Fatalf("RecordNotificationSent: %v", err)
	}
	if trackerID == "" {
		t.Fatal("expected tracker id")
	}

	clock.advance(30 * time.Minute)
	d := eng.CheckNotification(ctx, "u1", "Drink water", "Hydration reminder", "")
	if d.Allowed {
		t.Fatalf("expected block during cooldown: %+v", d)
	}
	if d.Outcome != OutcomeCooldown {
		t.Errorf("outcome = %s, want %s", d.Outcome, OutcomeCooldown)
	}
	if d.CooldownMinutes != 60 || d.AttemptCount != 1 {
		t.Errorf("cooldown=%d attempts=%d, want 60/1", d.CooldownMinutes, d.AttemptCount)
	}

	tracker, _ := db.GetTrackerByID(trackerID)
	if tracker.TotalBlocked != 1 {
		t.Errorf("total_blocked = %d, want 1", tracker.TotalBlocked)
	}
	// Blocked check leaves backoff untouched
	if tracker.CooldownMinutes != 60 || tracker.AttemptCount != 1 {
		t.Errorf("backoff disturbed: %+v", tracker)
	}
}

func TestCooldownElapsedAllowsThenAdvances(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "n-1", "")

	clock.advance(61 * time.Minute)
	d := eng.CheckNotification(ctx, "u1", "Drink water", "Hydration reminder", "")
	if !d.Allowed || d.Outcome != OutcomeReady {
		t.Fatalf("expected ready allow: %+v", d)
	}
	// Check alone does not advance the backoff
	if d.CooldownMinutes != 60 {
		t.Errorf("cooldown = %d, want still 60", d.CooldownMinutes)
	}

	trackerID, err := eng.RecordNotificationSent(ctx, "u1", "Drink water", "Hydration reminder", "n-2", "")
	if err != nil {
		t.Fatalf("RecordNotificationSent: %v", err)
	}

	tracker, _ := db.GetTrackerByID(trackerID)
	if tracker.AttemptCount != 2 {
		t.Errorf("attempt_count = %d, want 2", tracker.AttemptCount)
	}
	if tracker.CooldownMinutes != 120 {
		t.Errorf("cooldown_minutes = %d, want 120", tracker.CooldownMinutes)
	}
	wantNext := clock.now.UnixMilli() + 120*60*1000
	if tracker.NextAllowedAt != wantNext {
		t.Errorf("next_allowed_at = %d, want %d", tracker.NextAllowedAt, wantNext)
	}
	if tracker.TotalSent != 2 {
		t.Errorf("total_sent = %d, want 2", tracker.TotalSent)
	}
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	var trackerID string
	for i := 0; i < 5; i++ {
		var err error
		trackerID, err = eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "", "")
		if err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
		clock.advance(8 * 24 * time.Hour) // past any cooldown
	}

	tracker, _ := db.GetTrackerByID(trackerID)
	if tracker.AttemptCount != 5 {
		t.Errorf("attempt_count = %d, want 5", tracker.AttemptCount)
	}
	if !tracker.GivenUp {
		t.Fatal("expected tracker to be given up after 5 unanswered sends")
	}

	d := eng.CheckNotification(ctx, "u1", "Drink water", "Time to hydrate", "")
	if d.Allowed {
		t.Fatalf("given-up topic must block: %+v", d)
	}
	if d.Outcome != OutcomeGivenUp || !d.GivenUp {
		t.Errorf("outcome = %s given_up = %v", d.Outcome, d.GivenUp)
	}
	if !strings.Contains(d.Reason, "abandoned after 5") {
		t.Errorf("reason = %q, want mention of abandoned after 5", d.Reason)
	}
}

func TestNoGiveUpAfterResponse(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	trackerID, _ := eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "n-1", "")
	if _, err := eng.RespondByNotification("u1", "n-1"); err != nil {
		t.Fatalf("RespondByNotification: %v", err)
	}

	for i := 0; i < 6; i++ {
		eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "", "")
		clock.advance(8 * 24 * time.Hour)
	}

	tracker, _ := db.GetTrackerByID(trackerID)
	if tracker.GivenUp {
		t.Error("a topic with a recorded response must never be given up")
	}
}

func TestResponseResetsTracker(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	var trackerID string
	for i := 0; i < 3; i++ {
		trackerID, _ = eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "n-1", "")
		clock.advance(8 * 24 * time.Hour)
	}

	ok, err := eng.RespondByNotification("u1", "n-1")
	if err != nil {
		t.Fatalf("RespondByNotification: %v", err)
	}
	if !ok {
		t.Fatal("expected response to resolve the tracker")
	}

	tracker, _ := db.GetTrackerByID(trackerID)
	if tracker.AttemptCount != 0 || tracker.CooldownMinutes != 60 || tracker.GivenUp {
		t.Errorf("reset incomplete: %+v", tracker)
	}
	if tracker.ResponseCount != 1 {
		t.Errorf("response_count = %d, want 1", tracker.ResponseCount)
	}

	// Immediately allowed again
	d := eng.CheckNotification(ctx, "u1", "Drink water", "Time to hydrate", "")
	if !d.Allowed {
		t.Errorf("expected allow right after response: %+v", d)
	}
}

func TestRespondByNotificationWrongUser(t *testing.T) {
	eng, _, _, _ := testEngine(t)
	ctx := context.Background()

	eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "n-1", "")

	ok, err := eng.RespondByNotification("u2", "n-1")
	if err != nil {
		t.Fatalf("RespondByNotification: %v", err)
	}
	if ok {
		t.Error("another user's notification must not resolve")
	}
}

func TestRecordUserResponseDualResolution(t *testing.T) {
	eng, db, _, _ := testEngine(t)
	ctx := context.Background()

	trackerID, _ := eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "n-1", "")
	tracker, _ := db.GetTrackerByID(trackerID)

	// Resolves as a notification id
	if err := eng.RecordUserResponse("u1", "n-1"); err != nil {
		t.Fatalf("RecordUserResponse: %v", err)
	}
	got, _ := db.GetTrackerByID(trackerID)
	if got.ResponseCount != 1 {
		t.Errorf("response_count = %d, want 1", got.ResponseCount)
	}

	// Resolves as a literal topic string
	if err := eng.RecordUserResponse("u1", tracker.Topic); err != nil {
		t.Fatalf("RecordUserResponse: %v", err)
	}
	got, _ = db.GetTrackerByID(trackerID)
	if got.ResponseCount != 2 {
		t.Errorf("response_count = %d, want 2", got.ResponseCount)
	}

	// Resolves as neither: silent no-op
	if err := eng.RecordUserResponse("u1", "no-such-thing"); err != nil {
		t.Errorf("unresolved response should be a no-op, got %v", err)
	}
}

func TestReviveResetsRegardlessOfState(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	var trackerID string
	for i := 0; i < 5; i++ {
		trackerID, _ = eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "", "")
		clock.advance(8 * 24 * time.Hour)
	}
	tracker, _ := db.GetTrackerByID(trackerID)
	if !tracker.GivenUp {
		t.Fatal("setup: tracker should be given up")
	}

	revived, err := eng.ReviveTopic("u1", tracker.Topic)
	if err != nil {
		t.Fatalf("ReviveTopic: %v", err)
	}
	if !revived {
		t.Fatal("expected revive to affect the tracker")
	}

	got, _ := db.GetTrackerByID(trackerID)
	if got.GivenUp || got.AttemptCount != 0 || got.CooldownMinutes != 60 {
		t.Errorf("revive incomplete: %+v", got)
	}

	// Reviving an already-active tracker still resets without error
	revived, err = eng.ReviveTopic("u1", tracker.Topic)
	if err != nil {
		t.Fatalf("second ReviveTopic: %v", err)
	}
	if !revived {
		t.Error("revive of active tracker should still report true")
	}

	// Unknown topic reports false
	revived, err = eng.ReviveTopic("u1", "no_such_topic")
	if err != nil {
		t.Fatalf("ReviveTopic: %v", err)
	}
	if revived {
		t.Error("expected false for unknown topic")
	}
}

func TestFailOpenOnClassifierError(t *testing.T) {
	eng, _, cls, _ := testEngine(t)
	cls.err = context.DeadlineExceeded

	for i := 0; i < 3; i++ {
		d := eng.CheckNotification(context.Background(), "u1", "Drink water", "Time to hydrate", "")
		if !d.Allowed {
			t.Fatalf("check %d: internal failure must fail open: %+v", i, d)
		}
		if d.Outcome != OutcomeCheckFailed {
			t.Errorf("check %d: outcome = %s, want %s", i, d.Outcome, OutcomeCheckFailed)
		}
	}
}

func TestFailOpenOnStoreError(t *testing.T) {
	eng, db, _, _ := testEngine(t)
	db.Close()

	d := eng.CheckNotification(context.Background(), "u1", "Drink water", "Time to hydrate", "")
	if !d.Allowed || d.Outcome != OutcomeCheckFailed {
		t.Errorf("store failure must fail open: %+v", d)
	}
}

func TestRecordSentErrorReturned(t *testing.T) {
	eng, db, _, _ := testEngine(t)
	db.Close()

	trackerID, err := eng.RecordNotificationSent(context.Background(), "u1", "Drink water", "m", "n-1", "")
	if err == nil {
		t.Error("expected error when store is down")
	}
	if trackerID != "" {
		t.Errorf("tracker id = %q, want empty", trackerID)
	}
}

func TestMatchedTrackerWins(t *testing.T) {
	eng, db, cls, _ := testEngine(t)
	ctx := context.Background()

	trackerID, _ := eng.RecordNotificationSent(ctx, "u1", "Drink water", "Time to hydrate", "", "")
	tracker, _ := db.GetTrackerByID(trackerID)

	// Classifier reports a paraphrase match against the existing tracker.
	cls.result = &classifier.Result{
		Topic:            tracker.Topic,
		Category:         "health",
		SimilarToRecent:  true,
		SimilarityScore:  0.92,
		MatchedTopic:     tracker.Topic,
		MatchedTrackerID: trackerID,
	}

	d := eng.CheckNotification(ctx, "u1", "Stay hydrated", "Water break!", "")
	if d.TrackerID != trackerID {
		t.Errorf("decision tracker = %q, want matched %q", d.TrackerID, trackerID)
	}
	if d.Allowed {
		t.Errorf("matched tracker in cooldown must block: %+v", d)
	}
}

func TestSampleMessagesCapOnUpdatePath(t *testing.T) {
	eng, db, _, clock := testEngine(t)
	ctx := context.Background()

	var trackerID string
	messages := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6"}
	for _, m := range messages {
		trackerID, _ = eng.RecordNotificationSent(ctx, "u1", "Drink water", m, "", "")
		clock.advance(8 * 24 * time.Hour)
	}

	tracker, _ := db.GetTrackerByID(trackerID)
	if len(tracker.SampleMessages) != 5 {
		t.Fatalf("samples = %d, want 5", len(tracker.SampleMessages))
	}
	if tracker.SampleMessages[0] != "m2" || tracker.SampleMessages[4] != "m6" {
		t.Errorf("samples = %v, want m2..m6", tracker.SampleMessages)
	}
}

func TestUserTopicTrackers(t *testing.T) {
	eng, _, _, clock := testEngine(t)
	ctx := context.Background()

	eng.RecordNotificationSent(ctx, "u1", "Drink water", "m", "", "")
	clock.advance(time.Minute)
	eng.RecordNotificationSent(ctx, "u1", "Evening journal", "m", "", "")

	trackers, err := eng.UserTopicTrackers("u1", true)
	if err != nil {
		t.Fatalf("UserTopicTrackers: %v", err)
	}
	if len(trackers) != 2 {
		t.Fatalf("got %d trackers, want 2", len(trackers))
	}
	// Most recently updated first
	if trackers[0].UpdatedAt < trackers[1].UpdatedAt {
		t.Error("trackers not ordered newest first")
	}
}
