package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		Title      string `json:"title"`
		Message    string `json:"message"`
		SourceType string `json:"source_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Title == "" {
		http.Error(w, `{"error":"user_id and title required"}`, http.StatusBadRequest)
		return
	}

	decision := s.engine.CheckNotification(r.Context(), req.UserID, req.Title, req.Message, req.SourceType)
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleSent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		Title          string `json:"title"`
		Message        string `json:"message"`
		NotificationID string `json:"notification_id"`
		SourceType     string `json:"source_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Title == "" {
		http.Error(w, `{"error":"user_id and title required"}`, http.StatusBadRequest)
		return
	}

	// Bookkeeping failures stay server-side: the notification already went
	// out, so the caller gets an empty tracker_id rather than an error.
	trackerID, err := s.engine.RecordNotificationSent(r.Context(), req.UserID, req.Title, req.Message, req.NotificationID, req.SourceType)
	if err != nil {
		log.Printf("sent: record failed for user %s: %v", req.UserID, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"tracker_id": trackerID})
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		NotificationID string `json:"notification_id"`
		Topic          string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || (req.NotificationID == "" && req.Topic == "") {
		http.Error(w, `{"error":"user_id and one of notification_id or topic required"}`, http.StatusBadRequest)
		return
	}

	var resolved bool
	var err error
	if req.NotificationID != "" {
		resolved, err = s.engine.RespondByNotification(req.UserID, req.NotificationID)
	} else {
		resolved, err = s.engine.RespondByTopic(req.UserID, req.Topic)
	}
	if err != nil {
		// Swallowed by policy: an engagement that fails to record must not
		// bubble up to the user.
		log.Printf("respond: user %s: %v", req.UserID, err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

func (s *Server) handleRevive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Topic  string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Topic == "" {
		http.Error(w, `{"error":"user_id and topic required"}`, http.StatusBadRequest)
		return
	}

	revived, err := s.engine.ReviveTopic(req.UserID, req.Topic)
	if err != nil {
		log.Printf("revive: user %s topic %s: %v", req.UserID, req.Topic, err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"revived": revived})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, `{"error":"user_id parameter required"}`, http.StatusBadRequest)
		return
	}

	includeGivenUp := true
	if v := r.URL.Query().Get("include_given_up"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			includeGivenUp = b
		}
	}

	trackers, err := s.engine.UserTopicTrackers(userID, includeGivenUp)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	type trackerJSON struct {
		ID              string   `json:"id"`
		Topic           string   `json:"topic"`
		Category        string   `json:"category"`
		AttemptCount    int      `json:"attempt_count"`
		CooldownMinutes int      `json:"cooldown_minutes"`
		NextAllowedAt   int64    `json:"next_allowed_at"`
		GivenUp         bool     `json:"given_up"`
		ResponseCount   int      `json:"response_count"`
		TotalSent       int      `json:"total_sent"`
		TotalBlocked    int      `json:"total_blocked"`
		SampleMessages  []string `json:"sample_messages,omitempty"`
		UpdatedAt       int64    `json:"updated_at"`
	}

	out := make([]trackerJSON, len(trackers))
	for i, t := range trackers {
		out[i] = trackerJSON{
			ID:              t.ID,
			Topic:           t.Topic,
			Category:        t.Category,
			AttemptCount:    t.AttemptCount,
			CooldownMinutes: t.CooldownMinutes,
			NextAllowedAt:   t.NextAllowedAt,
			GivenUp:         t.GivenUp,
			ResponseCount:   t.ResponseCount,
			TotalSent:       t.TotalSent,
			TotalBlocked:    t.TotalBlocked,
			SampleMessages:  t.SampleMessages,
			UpdatedAt:       t.UpdatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"count":   len(out),
		"topics":  out,
	})
}
