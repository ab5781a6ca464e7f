package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/lazypower/hush/internal/llm"
)

// LLM classifies notifications with an LLM call. Any failure — transport,
// status, malformed response — degrades to the deterministic Fallback, so
// Classify never returns an error in practice.
type LLM struct {
	Client llm.Client
}

// NewLLM creates an LLM-backed classifier. A nil client means
// fallback-only operation.
func NewLLM(client llm.Client) *LLM {
	return &LLM{Client: client}
}

// Classify resolves the notification to a topic, preferring a semantic
// match against the supplied recent topics over inventing a new id.
func (c *LLM) Classify(ctx context.Context, req Request) (*Result, error) {
	if c.Client == nil {
		return Fallback(req), nil
	}

	resp, err := c.Client.Complete(ctx, classifyPrompt(req))
	if err != nil {
		log.Printf("classifier: llm call failed, using fallback: %v", err)
		return Fallback(req), nil
	}

	result, err := parseClassifyResponse(resp.Content, req)
	if err != nil {
		log.Printf("classifier: bad llm response, using fallback: %v", err)
		return Fallback(req), nil
	}
	return result, nil
}

// classifyPrompt builds the classification prompt. Recent topics are
// numbered so the model can reference them unambiguously.
func classifyPrompt(req Request) string {
	var recent strings.Builder
	if len(req.Recent) == 0 {
		recent.WriteString("(none)")
	}
	for i, rt := range req.Recent {
		fmt.Fprintf(&recent, "%d. topic=%q category=%q", i+1, rt.Topic, rt.Category)
		for _, s := range rt.Samples {
			if len(s) > 120 {
				s = s[:120]
			}
			fmt.Fprintf(&recent, "\n   sample: %q", s)
		}
		recent.WriteString("\n")
	}

	source := req.SourceType
	if source == "" {
		source = "general"
	}

	return fmt.Sprintf(`You are a notification topic classifier for a personal assistant.
Assign this notification a short stable topic id so repeated nudges about the
same thing can be rate-limited together.

NOTIFICATION:
source: %s
title: %s
message: %s

RECENT TOPICS FOR THIS USER:
%s

Rules:
- Matching is semantic, not literal: "drink water" and "stay hydrated" are the
  same topic. If the notification is about one of the recent topics, reuse
  that exact topic id and set matched_index to its number.
- Otherwise invent a new topic id: snake_case, max 30 characters.
- category must be one of: health, mental, productivity, goals, habits,
  relationships, learning, financial, system, general.
- similarity_score is 0.0-1.0 confidence in the match (0 for a new topic).
- Return ONLY a JSON object, no other text.

Return:
{
  "topic": "snake_case_id",
  "category": "general",
  "is_similar_to_recent": false,
  "similarity_score": 0.0,
  "matched_index": 0
}`, source, req.Title, req.Message, recent.String())
}

// classifyPayload is the JSON structure returned by the classification LLM.
type classifyPayload struct {
	Topic             string  `json:"topic"`
	Category          string  `json:"category"`
	IsSimilarToRecent bool    `json:"is_similar_to_recent"`
	SimilarityScore   float64 `json:"similarity_score"`
	MatchedIndex      int     `json:"matched_index"` // 1-based into Recent, 0 = none
}

// parseClassifyResponse extracts a JSON object from the LLM response.
// The response might contain markdown code fences or other wrapper text.
func parseClassifyResponse(content string, req Request) (*Result, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var payload classifyPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal classification: %w", err)
	}

	topic := NormalizeTopic(payload.Topic)
	if topic == "" {
		return nil, fmt.Errorf("empty topic in classification")
	}

	score := payload.SimilarityScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	result := &Result{
		Topic:           topic,
		Category:        NormalizeCategory(payload.Category),
		SimilarToRecent: payload.IsSimilarToRecent,
		SimilarityScore: score,
	}

	// A matched index binds the result to the existing tracker, and the
	// existing topic id wins over whatever the model restated.
	if payload.MatchedIndex >= 1 && payload.MatchedIndex <= len(req.Recent) {
		matched := req.Recent[payload.MatchedIndex-1]
		result.Topic = matched.Topic
		result.MatchedTopic = matched.Topic
		result.MatchedTrackerID = matched.TrackerID
		result.SimilarToRecent = true
	}

	return result, nil
}
