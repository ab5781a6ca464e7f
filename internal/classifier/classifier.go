// Package classifier resolves candidate notifications to stable,
// semantically-identified topic ids. The real work happens in an LLM; a
// deterministic local heuristic covers every failure so callers always get
// an answer.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// maxTopicLen bounds topic ids: snake_case, at most 30 characters.
const maxTopicLen = 30

// Request is a candidate notification plus disambiguation context.
type Request struct {
	UserID     string
	Title      string
	Message    string
	SourceType string
	Recent     []RecentTopic // the user's recently active topics, newest first
}

// RecentTopic is a compact view of an existing tracker offered to the
// classifier for similarity matching.
type RecentTopic struct {
	TrackerID string
	Topic     string
	Category  string
	Samples   []string // up to 2 recent message bodies
}

// Result is the classifier's judgment of a candidate notification.
type Result struct {
	Topic            string
	Category         string
	SimilarToRecent  bool
	SimilarityScore  float64
	MatchedTopic     string
	MatchedTrackerID string
}

// Classifier resolves a notification to a topic. Implementations may call
// out to an LLM but must degrade to a deterministic answer rather than
// fail: a returned error means even the local fallback broke, which the
// decision engine treats as a fail-open condition.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Result, error)
}

// validCategories are the notification categories the store accepts.
var validCategories = map[string]bool{
	"health": true, "mental": true, "productivity": true, "goals": true,
	"habits": true, "relationships": true, "learning": true,
	"financial": true, "system": true, "general": true,
}

// NormalizeCategory lowercases a category and maps anything unknown to
// "general".
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if validCategories[c] {
		return c
	}
	return "general"
}

// NormalizeTopic forces a topic id into snake_case: lowercase alphanumerics
// with single underscores, truncated to 30 characters. Returns "" if
// nothing usable remains.
func NormalizeTopic(topic string) string {
	var b strings.Builder
	lastUnderscore := true // suppress a leading underscore
	for _, r := range strings.ToLower(strings.TrimSpace(topic)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	s := strings.Trim(b.String(), "_")
	if len(s) > maxTopicLen {
		s = strings.Trim(s[:maxTopicLen], "_")
	}
	return s
}

// ContentHash returns a stable 16-hex-char digest of title+message. It is
// a change marker, not a security primitive.
func ContentHash(title, message string) string {
	sum := sha256.Sum256([]byte(title + message))
	return hex.EncodeToString(sum[:])[:16]
}
