package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/store"
	"github.com/CalmCompanion/CalmPipe/internal/strategy"
)

// mockRunner returns a fixed turn state and records its inputs.
type mockRunner struct {
	state       *models.TurnState
	err         error
	lastText    string
	lastHistory []models.Message
}

func (m *mockRunner) RunTurn(ctx context.Context, userText string, history []models.Message) (*models.TurnState, error) {
	m.lastText = userText
	m.lastHistory = history
	if m.err != nil {
		return nil, m.err
	}
	return m.state, nil
}

func newTestServer(t *testing.T, runner turnRunner, st store.Store, corpus []models.StrategyCard) *Server {
	t.Helper()
	if st == nil {
		st = store.NewInMemoryStore(nil)
	}
	s, err := NewServer(runner, st, nil, nil, corpus)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestChat_HappyPath(t *testing.T) {
	runner := &mockRunner{state: &models.TurnState{
		Risk:           models.RiskNone,
		Mood:           models.MoodEstimate{Label: models.MoodSadness, Confidence: 0.8},
		ChosenStrategy: "Inhale 4, hold 4, exhale 4, hold 4 - repeat 4 times.",
		DraftMessage:   "That sounds heavy. Inhale 4, hold 4, exhale 4, hold 4 - repeat 4 times.",
		AdviceGiven:    true,
	}}
	st := store.NewInMemoryStore(nil)
	s := newTestServer(t, runner, st, strategy.FallbackCards)

	rec := postJSON(t, s.Handler(), "/chat", models.ChatRequest{UserID: "u1", UserText: "feeling anxious"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "ok" {
		t.Fatalf("expected ok envelope, got %+v", resp)
	}
	raw, _ := json.Marshal(resp.Result)
	var chat models.ChatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		t.Fatalf("decode chat result: %v", err)
	}
	if chat.Mood != "sadness" || !chat.AdviceGiven || chat.CrisisDetected {
		t.Errorf("unexpected chat response: %+v", chat)
	}
	if chat.StrategySource == nil || chat.StrategySource.Name != "NHS" {
		t.Errorf("expected NHS provenance for the breathing step, got %+v", chat.StrategySource)
	}

	rows, err := st.RecentInteractions("u1", 10)
	if err != nil {
		t.Fatalf("RecentInteractions failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 persisted interaction, got %d", len(rows))
	}
	if rows[0].DetectedMood != "sadness" || !rows[0].AdviceGiven || rows[0].SafetyFlag {
		t.Errorf("persisted record mismatch: %+v", rows[0])
	}
}

func TestChat_CrisisTurnSetsSafetyFlag(t *testing.T) {
	runner := &mockRunner{state: &models.TurnState{
		Risk:         models.RiskSelfHarm,
		Mood:         models.MoodEstimate{Label: models.MoodNeutral},
		DraftMessage: models.CrisisMessageSelf,
	}}
	st := store.NewInMemoryStore(nil)
	s := newTestServer(t, runner, st, nil)

	rec := postJSON(t, s.Handler(), "/chat", models.ChatRequest{UserID: "u1", UserText: "some text"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rows, _ := st.RecentInteractions("u1", 1)
	if len(rows) != 1 || !rows[0].SafetyFlag {
		t.Errorf("crisis turn must persist with safety_flag set, got %+v", rows)
	}
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t, &mockRunner{state: &models.TurnState{}}, nil, nil)
	h := s.Handler()

	rec := postJSON(t, h, "/chat", models.ChatRequest{UserText: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty user_text: status = %d, want 400", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "error" {
		t.Errorf("expected error envelope, got %+v", resp)
	}

	rec = postJSON(t, h, "/chat", models.ChatRequest{
		UserText: "hello",
		History:  []models.Message{{Role: "narrator", Content: "x"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad history role: status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte("{not json")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status = %d, want 400", rec.Code)
	}
}

func TestChat_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &mockRunner{state: &models.TurnState{}}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Allow header = %q, want POST", allow)
	}
}

func TestChat_RunnerFailure(t *testing.T) {
	s := newTestServer(t, &mockRunner{err: errors.New("model down")}, nil, nil)
	rec := postJSON(t, s.Handler(), "/chat", models.ChatRequest{UserText: "hello"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestChat_RebuildsHistoryFromStore(t *testing.T) {
	st := store.NewInMemoryStore(nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.AddInteraction(models.Interaction{
		ID: "1", UserID: "u1", UserText: "first message", Message: "first reply", CreatedAt: base,
	})
	st.AddInteraction(models.Interaction{
		ID: "2", UserID: "u1", UserText: "second message", Message: "second reply", CreatedAt: base.Add(time.Minute),
	})
	runner := &mockRunner{state: &models.TurnState{Mood: models.MoodEstimate{Label: models.MoodNeutral}}}
	s := newTestServer(t, runner, st, nil)

	rec := postJSON(t, s.Handler(), "/chat", models.ChatRequest{UserID: "u1", UserText: "third message"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := []models.Message{
		{Role: "user", Content: "first message"},
		{Role: "assistant", Content: "first reply"},
		{Role: "user", Content: "second message"},
		{Role: "assistant", Content: "second reply"},
	}
	if len(runner.lastHistory) != len(want) {
		t.Fatalf("rebuilt history length = %d, want %d", len(runner.lastHistory), len(want))
	}
	for i, m := range want {
		if runner.lastHistory[i] != m {
			t.Errorf("history[%d] = %+v, want %+v", i, runner.lastHistory[i], m)
		}
	}
}

func TestChat_ExplicitHistoryWins(t *testing.T) {
	st := store.NewInMemoryStore(nil)
	st.AddInteraction(models.Interaction{ID: "1", UserID: "u1", UserText: "stored", Message: "stored reply", CreatedAt: time.Now()})
	runner := &mockRunner{state: &models.TurnState{Mood: models.MoodEstimate{Label: models.MoodNeutral}}}
	s := newTestServer(t, runner, st, nil)

	supplied := []models.Message{{Role: "user", Content: "caller-supplied"}}
	postJSON(t, s.Handler(), "/chat", models.ChatRequest{UserID: "u1", UserText: "next", History: supplied})
	if len(runner.lastHistory) != 1 || runner.lastHistory[0].Content != "caller-supplied" {
		t.Errorf("caller-supplied history must be used verbatim, got %+v", runner.lastHistory)
	}
}

func TestSuggestStrategy(t *testing.T) {
	s := newTestServer(t, &mockRunner{state: &models.TurnState{}}, nil, nil)
	h := s.Handler()

	suggest := func(body suggestStrategyRequest) string {
		rec := postJSON(t, h, "/suggest/strategy", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		resp := decodeResponse(t, rec)
		raw, _ := json.Marshal(resp.Result)
		var out map[string]string
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		return out["strategy"]
	}

	if step := suggest(suggestStrategyRequest{UserText: "I can't sleep, insomnia again"}); step == "" {
		t.Error("expected a step for a benign query")
	}
	if step := suggest(suggestStrategyRequest{UserText: "anything", Crisis: models.RiskSelfHarm}); step != "" {
		t.Errorf("declared crisis must suppress the suggestion, got %q", step)
	}
	if step := suggest(suggestStrategyRequest{UserText: "I want to kill myself"}); step != "" {
		t.Errorf("classifier-detected crisis must suppress the suggestion, got %q", step)
	}
	if step := suggest(suggestStrategyRequest{UserText: "I can't sleep", Crisis: models.RiskLabel("bogus")}); step == "" {
		t.Error("invalid crisis label should fall back to classification, not suppress")
	}
}

func TestSuggestResources(t *testing.T) {
	s := newTestServer(t, &mockRunner{state: &models.TurnState{}}, nil, nil)
	h := s.Handler()

	suggest := func(body suggestResourcesRequest) []models.ResourceCard {
		rec := postJSON(t, h, "/suggest/resources", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		resp := decodeResponse(t, rec)
		raw, _ := json.Marshal(resp.Result)
		var out map[string][]models.ResourceCard
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		found, ok := out["resources"]
		if !ok {
			t.Fatalf("result missing resources key: %s", raw)
		}
		return found
	}

	got := suggest(suggestResourcesRequest{UserText: "I can't sleep, insomnia again", Mood: "sadness"})
	if len(got) == 0 {
		t.Fatal("expected resources for a benign sleep query")
	}
	if got[0].ID != "article.sleep_hygiene" {
		t.Errorf("top resource = %s, want article.sleep_hygiene", got[0].ID)
	}
	if got := suggest(suggestResourcesRequest{UserText: "can't sleep", Crisis: models.RiskSelfHarm}); len(got) != 0 {
		t.Errorf("declared crisis must suppress resources, got %d", len(got))
	}
	if got := suggest(suggestResourcesRequest{UserText: "I want to kill myself"}); len(got) != 0 {
		t.Errorf("classifier-detected crisis must suppress resources, got %d", len(got))
	}
	if got := suggest(suggestResourcesRequest{UserText: "stressed about the exam, can't sleep", Limit: 1}); len(got) != 1 {
		t.Errorf("limit must cap the list, got %d", len(got))
	}
	if got := suggest(suggestResourcesRequest{UserText: "hello there"}); len(got) != 0 {
		t.Errorf("no keyword hit must return an empty list, got %d", len(got))
	}
}

func TestInteractions(t *testing.T) {
	st := store.NewInMemoryStore(nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		st.AddInteraction(models.Interaction{
			ID: string(rune('a' + i)), UserID: "u1", UserText: "t", Message: "m",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	s := newTestServer(t, &mockRunner{state: &models.TurnState{}}, st, nil)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interactions?user_id=u1&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Result)
	var rows []models.Interaction
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "c" {
		t.Errorf("expected 2 newest-first rows starting with c, got %+v", rows)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interactions?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric limit: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interactions?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &mockRunner{state: &models.TurnState{}}, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "ok" {
		t.Errorf("expected ok envelope, got %+v", resp)
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(nil, store.NewInMemoryStore(nil), nil, nil, nil); err == nil {
		t.Error("expected error for nil runner")
	}
	if _, err := NewServer(&mockRunner{}, nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
}
