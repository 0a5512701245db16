package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/domain"
	"github.com/continuumhq/continuum/internal/oracle"
	"github.com/continuumhq/continuum/internal/service"
	"github.com/continuumhq/continuum/internal/store"
)

type testEnv struct {
	router *chi.Mux
	store  *store.MemoryGraphStore
	mock   *oracle.MockClient
}

// newTestEnv wires the full conversation stack over the in-memory store and
// a mock oracle. The verifier is never started, so async tasks sit on the
// queue and the synchronous paths stay deterministic.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		Escalation: config.DefaultEscalationConfig(),
		Drift:      config.DefaultDriftConfig(),
	}

	graphStore := store.NewMemoryGraphStore()
	mock := oracle.NewMockClient()

	deps := service.NewDependencyGraph(cfg.Escalation.StructuralBreakDepth)
	drift := service.NewDriftAccumulator(cfg.Drift, deps, logger)
	topics := service.NewTopicTracker(cfg.Escalation.StanceInstability)
	extractor := service.NewExtractor(logger)
	detector := service.NewDetector(drift, logger)
	policy := service.NewEscalationPolicy(cfg.Escalation, drift, deps, topics, logger)
	analyzer := service.NewAnalyzer(extractor, detector, drift, deps, topics, policy, mock, false, logger)
	verifier := service.NewVerifier(graphStore, mock, logger)
	health := service.NewHealthReporter(drift, deps)

	h := NewConversationHandler(graphStore, analyzer, verifier, health, logger)

	r := chi.NewRouter()
	r.Route("/v1/conversations/{id}", func(r chi.Router) {
		r.Post("/turns", h.AnalyzeTurn)
		r.Post("/reconcile", h.Reconcile)
		r.Get("/graph", h.GetGraph)
		r.Get("/metrics", h.GetMetrics)
		r.Delete("/", h.Delete)
	})

	return &testEnv{router: r, store: graphStore, mock: mock}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postTurn(t *testing.T, conv string, id int, text, lastHash string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/v1/conversations/"+conv+"/turns", analyzeTurnRequest{
		Turn:          turnPayload{ID: id, Speaker: "user", Text: text},
		LastGraphHash: lastHash,
	})
}

func decodeTurnResponse(t *testing.T, rec *httptest.ResponseRecorder) analyzeTurnResponse {
	t.Helper()
	var resp analyzeTurnResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestAnalyzeTurn_FirstTurn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postTurn(t, "conv-1", 1, "I think we should use redis for caching", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeTurnResponse(t, rec)
	if resp.ConversationID != "conv-1" || resp.CacheHit {
		t.Errorf("response = %+v", resp)
	}
	if resp.GraphHash == "" {
		t.Error("expected a graph hash")
	}
	if resp.UpdatedGraph.Version != 1 {
		t.Errorf("Version = %d, want 1", resp.UpdatedGraph.Version)
	}
	if resp.Analysis == nil || resp.Analysis.EngineUsed != service.EngineHeuristic {
		t.Errorf("analysis = %+v", resp.Analysis)
	}
	if len(resp.UpdatedGraph.Commitments) == 0 {
		t.Error("expected at least one extracted commitment")
	}
}

func TestAnalyzeTurn_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"zero turn id", analyzeTurnRequest{Turn: turnPayload{ID: 0, Speaker: "user", Text: "hi there"}}},
		{"bad speaker", analyzeTurnRequest{Turn: turnPayload{ID: 1, Speaker: "robot", Text: "hi there"}}},
		{"blank text", analyzeTurnRequest{Turn: turnPayload{ID: 1, Speaker: "user", Text: "   "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/conversations/conv-v/turns", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/conv-v/turns",
		strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestAnalyzeTurn_DuplicateTurnConflicts(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.postTurn(t, "conv-dup", 1, "the api design looks solid to me", ""); rec.Code != http.StatusOK {
		t.Fatalf("first turn: status = %d", rec.Code)
	}
	rec := env.postTurn(t, "conv-dup", 1, "the api design looks solid to me", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate turn: status = %d, want 409", rec.Code)
	}
}

func TestAnalyzeTurn_CacheHit(t *testing.T) {
	env := newTestEnv(t)

	first := decodeTurnResponse(t, env.postTurn(t, "conv-cache", 1, "I believe the schema is ready", ""))

	rec := env.postTurn(t, "conv-cache", 1, "I believe the schema is ready", first.GraphHash)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeTurnResponse(t, rec)
	if !resp.CacheHit {
		t.Error("expected cache hit")
	}
	if resp.GraphHash != first.GraphHash {
		t.Errorf("GraphHash = %q, want %q", resp.GraphHash, first.GraphHash)
	}
	if resp.Analysis != nil {
		t.Error("cache hit must not re-run analysis")
	}
	if resp.UpdatedGraph.Version != 1 {
		t.Errorf("Version = %d, want 1", resp.UpdatedGraph.Version)
	}

	// A stale hash falls through to analysis, which rejects the replayed turn.
	rec = env.postTurn(t, "conv-cache", 1, "I believe the schema is ready", "stale-hash")
	if rec.Code != http.StatusConflict {
		t.Errorf("stale hash: status = %d, want 409", rec.Code)
	}
}

func TestAnalyzeTurn_PolarityFlipSuggestsMessage(t *testing.T) {
	env := newTestEnv(t)

	env.postTurn(t, "conv-flip", 1, "I think TypeScript is definitely good for our project", "")
	rec := env.postTurn(t, "conv-flip", 2, "Actually TypeScript is not good for our project, maybe avoid it", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeTurnResponse(t, rec)
	if resp.Analysis.EngineUsed != service.EngineOracleImmediate {
		t.Errorf("EngineUsed = %q", resp.Analysis.EngineUsed)
	}
	if !resp.Analysis.Escalation.ShouldEscalate {
		t.Error("expected escalation")
	}
	if resp.SuggestedMessage != "Mock reconciliation" {
		t.Errorf("SuggestedMessage = %q", resp.SuggestedMessage)
	}
	if len(resp.UpdatedGraph.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(resp.UpdatedGraph.Alerts))
	}
	if resp.UpdatedGraph.Alerts[0].Verification != domain.VerificationVerified {
		t.Errorf("Verification = %q", resp.UpdatedGraph.Alerts[0].Verification)
	}
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/conversations/conv-missing/reconcile",
		reconcileRequest{AlertID: "a1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: status = %d, want 404", rec.Code)
	}

	env.postTurn(t, "conv-rec", 1, "I think TypeScript is definitely good for our project", "")
	env.postTurn(t, "conv-rec", 2, "Actually TypeScript is not good for our project, maybe avoid it", "")

	rec = env.do(t, http.MethodPost, "/v1/conversations/conv-rec/reconcile",
		reconcileRequest{AlertID: "a999"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert: status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/conversations/conv-rec/reconcile",
		reconcileRequest{AlertID: "a1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp reconcileResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "oracle" || resp.Reconciliation != "Mock reconciliation" {
		t.Errorf("response = %+v", resp)
	}

	// When the oracle is down the handler falls back to templated text.
	env.mock.GenerateReconciliationError = fmt.Errorf("oracle unavailable")
	rec = env.do(t, http.MethodPost, "/v1/conversations/conv-rec/reconcile",
		reconcileRequest{AlertID: "a1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "template" || resp.Reconciliation == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetGraph(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/conversations/conv-missing/graph", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	env.postTurn(t, "conv-g", 1, "we should ship the migration first", "")

	rec = env.do(t, http.MethodGet, "/v1/conversations/conv-g/graph", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var g domain.CommitmentGraph
	if err := json.NewDecoder(rec.Body).Decode(&g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.ConversationID != "conv-g" || g.Version != 1 || len(g.Turns) != 1 {
		t.Errorf("graph = %+v", g)
	}
}

func TestGetMetrics_UnknownConversationIsCleanSlate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/conversations/conv-new/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m service.EpistemicMetrics
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ConversationID != "conv-new" || m.HealthScore != 100.0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestGetMetrics_KnownConversation(t *testing.T) {
	env := newTestEnv(t)
	env.postTurn(t, "conv-m", 1, "I think the cache layer is the right call", "")

	rec := env.do(t, http.MethodGet, "/v1/conversations/conv-m/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m service.EpistemicMetrics
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.TurnsAnalyzed != 1 || m.Commitments.Total == 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	env.postTurn(t, "conv-d", 1, "I think we should keep the monolith for now", "")

	rec := env.do(t, http.MethodDelete, "/v1/conversations/conv-d/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "deleted" || resp["conversation_id"] != "conv-d" {
		t.Errorf("response = %v", resp)
	}

	if rec := env.do(t, http.MethodGet, "/v1/conversations/conv-d/graph", nil); rec.Code != http.StatusNotFound {
		t.Errorf("graph after delete: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/conversations/conv-d/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("double delete: status = %d, want 404", rec.Code)
	}
}
