// Package api provides HTTP handlers for CalmPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = "anon"
	}

	history := req.History
	if len(history) == 0 {
		rebuilt, err := s.historyForUser(userID)
		if err != nil {
			slog.Error("Server.chatHandler: failed to rebuild history", "error", err, "user_id", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation history"))
			return
		}
		history = rebuilt
	}

	ts, err := s.runner.RunTurn(r.Context(), req.UserText, history)
	if err != nil {
		slog.Error("Server.chatHandler: turn failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process chat turn"))
		return
	}

	record := models.Interaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		UserText:       req.UserText,
		DetectedMood:   string(ts.Mood.Label),
		ChosenStrategy: ts.ChosenStrategy,
		Message:        ts.DraftMessage,
		SafetyFlag:     ts.Risk != models.RiskNone,
		AdviceGiven:    ts.AdviceGiven,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AddInteraction(record); err != nil {
		// The reviewed reply is still safe to return; log and continue.
		slog.Error("Server.chatHandler: failed to persist interaction", "error", err, "user_id", userID)
	}

	resp := models.ChatResponse{
		Mood:           string(ts.Mood.Label),
		Strategy:       ts.ChosenStrategy,
		Message:        ts.DraftMessage,
		CrisisDetected: ts.Risk != models.RiskNone,
		AdviceGiven:    ts.AdviceGiven,
		StrategySource: s.strategySource(ts.ChosenStrategy),
	}
	slog.Info("Server.chatHandler: turn completed", "user_id", userID, "crisis", resp.CrisisDetected, "advice_given", resp.AdviceGiven)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// suggestStrategyRequest is the inbound payload for the direct suggestion
// endpoint.
type suggestStrategyRequest struct {
	UserText string           `json:"user_text"`
	Mood     string           `json:"mood,omitempty"`
	Crisis   models.RiskLabel `json:"crisis,omitempty"`
	History  []models.Message `json:"history,omitempty"`
}

func (s *Server) suggestStrategyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.suggestStrategyHandler: processing request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req suggestStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.suggestStrategyHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Never suggest a step on a crisis turn, whether the caller declares
	// it or the classifier finds it.
	crisis := req.Crisis
	if crisis == "" || !models.IsValidRiskLabel(crisis) {
		crisis = models.RiskNone
	}
	if crisis == models.RiskNone {
		crisis = s.classifier.Classify(req.UserText)
	}
	if crisis != models.RiskNone {
		slog.Info("Server.suggestStrategyHandler: crisis turn, suppressing suggestion", "risk", crisis)
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"strategy": ""}))
		return
	}

	mood := models.MoodLabel(req.Mood)
	if mood == "" {
		mood = models.MoodNeutral
	}
	step := ""
	if card, ok := s.retriever.Best(req.UserText, mood, req.History); ok {
		step = card.Step
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"strategy": step}))
}

// suggestResourcesRequest is the inbound payload for the resource
// suggestion endpoint.
type suggestResourcesRequest struct {
	UserText string           `json:"user_text"`
	Mood     string           `json:"mood,omitempty"`
	Crisis   models.RiskLabel `json:"crisis,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// defaultResourceLimit caps the resource list when the caller omits one.
const defaultResourceLimit = 3

func (s *Server) suggestResourcesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.suggestResourcesHandler: processing request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req suggestResourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.suggestResourcesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Same crisis policy as the strategy endpoint: a crisis turn gets no
	// external pointers, only the fixed crisis path in chat.
	crisis := req.Crisis
	if crisis == "" || !models.IsValidRiskLabel(crisis) {
		crisis = models.RiskNone
	}
	if crisis == models.RiskNone {
		crisis = s.classifier.Classify(req.UserText)
	}
	if crisis != models.RiskNone {
		slog.Info("Server.suggestResourcesHandler: crisis turn, suppressing resources", "risk", crisis)
		writeJSONResponse(w, http.StatusOK, models.Success(map[string][]models.ResourceCard{"resources": {}}))
		return
	}

	mood := models.MoodLabel(req.Mood)
	if mood == "" {
		mood = models.MoodNeutral
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultResourceLimit
	}
	found := s.resources.Suggest(req.UserText, mood, limit)
	if found == nil {
		found = []models.ResourceCard{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string][]models.ResourceCard{"resources": found}))
}

func (s *Server) interactionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.interactionsHandler: processing request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anon"
	}
	limit := historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	rows, err := s.store.RecentInteractions(userID, limit)
	if err != nil {
		slog.Error("Server.interactionsHandler: query failed", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list interactions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rows))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "ok"}))
}

// historyForUser rebuilds conversation context from the last interaction
// rows, oldest-first, as alternating user/assistant messages.
func (s *Server) historyForUser(userID string) ([]models.Message, error) {
	rows, err := s.store.RecentInteractions(userID, historyLimit)
	if err != nil {
		return nil, err
	}
	// RecentInteractions returns newest first; replay oldest first.
	var history []models.Message
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].UserText != "" {
			history = append(history, models.Message{Role: "user", Content: rows[i].UserText})
		}
		if rows[i].Message != "" {
			history = append(history, models.Message{Role: "assistant", Content: rows[i].Message})
		}
	}
	return history, nil
}

// strategySource resolves provenance metadata for the chosen step.
func (s *Server) strategySource(step string) *models.StrategySource {
	if step == "" {
		return nil
	}
	for _, c := range s.corpus {
		if c.Step == step && (c.SourceName != "" || c.SourceURL != "") {
			return &models.StrategySource{Name: c.SourceName, URL: c.SourceURL}
		}
	}
	return nil
}
