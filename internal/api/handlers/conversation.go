package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/domain"
	"github.com/continuumhq/continuum/internal/metrics"
	"github.com/continuumhq/continuum/internal/service"
	"github.com/continuumhq/continuum/internal/store"
)

// ConversationHandler serves the per-conversation analysis endpoints. All
// synchronous graph writes happen here; the background verifier is handed
// pending alert ids only after the graph has been persisted.
type ConversationHandler struct {
	store    domain.GraphStore
	analyzer *service.Analyzer
	verifier *service.Verifier
	health   *service.HealthReporter
	logger   *zap.Logger
}

func NewConversationHandler(
	graphStore domain.GraphStore,
	analyzer *service.Analyzer,
	verifier *service.Verifier,
	health *service.HealthReporter,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		store:    graphStore,
		analyzer: analyzer,
		verifier: verifier,
		health:   health,
		logger:   logger,
	}
}

type turnPayload struct {
	ID        int        `json:"id"`
	Speaker   string     `json:"speaker"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"ts,omitempty"`
}

type analyzeTurnRequest struct {
	Turn          turnPayload `json:"turn"`
	LastGraphHash string      `json:"last_graph_hash,omitempty"`
}

type analyzeTurnResponse struct {
	ConversationID   string                  `json:"conversation_id"`
	CacheHit         bool                    `json:"cache_hit"`
	GraphHash        string                  `json:"graph_hash"`
	UpdatedGraph     *domain.CommitmentGraph `json:"updated_graph"`
	Analysis         *service.AnalysisResult `json:"analysis,omitempty"`
	SuggestedMessage string                  `json:"suggested_message,omitempty"`
}

// AnalyzeTurn appends one turn to the conversation graph and runs the
// drift pipeline over it.
func (h *ConversationHandler) AnalyzeTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var req analyzeTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Turn.ID <= 0 {
		writeError(w, http.StatusBadRequest, "turn id must be positive")
		return
	}
	if !domain.ValidSpeaker(req.Turn.Speaker) {
		writeError(w, http.StatusBadRequest, "speaker must be 'user' or 'model'")
		return
	}
	if strings.TrimSpace(req.Turn.Text) == "" {
		writeError(w, http.StatusBadRequest, "turn text must not be empty")
		return
	}

	g, err := h.store.Get(r.Context(), conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("failed to load graph",
				zap.String("conversation_id", conversationID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
			return
		}
		g = domain.NewCommitmentGraph(conversationID)
	}

	// A client that already holds the current graph state and resends a
	// processed turn gets its state echoed back without re-analysis.
	if req.LastGraphHash != "" && g.GetTurn(req.Turn.ID) != nil &&
		req.LastGraphHash == g.Fingerprint() {
		writeJSON(w, http.StatusOK, analyzeTurnResponse{
			ConversationID: conversationID,
			CacheHit:       true,
			GraphHash:      req.LastGraphHash,
			UpdatedGraph:   g,
		})
		return
	}

	turn := domain.Turn{
		ID:        req.Turn.ID,
		Speaker:   domain.Speaker(req.Turn.Speaker),
		Text:      req.Turn.Text,
		Timestamp: time.Now().UTC(),
	}
	if req.Turn.Timestamp != nil {
		turn.Timestamp = req.Turn.Timestamp.UTC()
	}

	start := time.Now()
	result, err := h.analyzer.Analyze(r.Context(), g, turn)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	metrics.TurnAnalysisDuration.WithLabelValues(result.EngineUsed).
		Observe(time.Since(start).Seconds())

	if result.Escalation.ShouldEscalate {
		metrics.EscalationsTotal.WithLabelValues(
			result.Escalation.Reason, string(result.Escalation.Urgency)).Inc()
	}
	for _, alert := range result.NewAlerts {
		metrics.AlertsTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	}
	metrics.DriftScore.WithLabelValues(conversationID).Set(g.DriftScore)

	suggested := h.suggestMessage(r, g, result)

	if err := h.store.Put(r.Context(), g); err != nil {
		h.logger.Error("failed to persist graph",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist conversation")
		return
	}

	// Enqueue only after the persisted graph carries the pending alerts,
	// otherwise the worker could load a graph that never saw them.
	if len(result.PendingVerification) > 0 {
		h.verifier.Enqueue(conversationID, g.Version, result.PendingVerification)
	}

	writeJSON(w, http.StatusOK, analyzeTurnResponse{
		ConversationID:   conversationID,
		CacheHit:         false,
		GraphHash:        g.Fingerprint(),
		UpdatedGraph:     g,
		Analysis:         result,
		SuggestedMessage: suggested,
	})
}

// suggestMessage proposes a clarifying prompt for the worst new alert. Only
// the blocking oracle path earns an oracle-written suggestion; everything
// else uses templates.
func (h *ConversationHandler) suggestMessage(r *http.Request, g *domain.CommitmentGraph, result *service.AnalysisResult) string {
	worst := service.HighestSeverity(result.NewAlerts)
	if worst == nil {
		return ""
	}
	if result.EngineUsed == service.EngineOracleImmediate {
		text, _ := h.analyzer.Reconcile(r.Context(), g, worst)
		return text
	}
	return service.SuggestedPrompt(worst)
}

type reconcileRequest struct {
	AlertID string `json:"alert_id"`
}

type reconcileResponse struct {
	AlertID        string `json:"alert_id"`
	Reconciliation string `json:"reconciliation"`
	Source         string `json:"source"`
}

// Reconcile generates bridging text for one alert, via the oracle for
// polarity flips and templates for everything else.
func (h *ConversationHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AlertID == "" {
		writeError(w, http.StatusBadRequest, "alert_id is required")
		return
	}

	g, err := h.store.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	alert := g.GetAlert(req.AlertID)
	if alert == nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	var text, source string
	if alert.Type == domain.AlertPolarityFlip && len(alert.RelatedCommitments) >= 2 {
		var fromOracle bool
		text, fromOracle = h.analyzer.Reconcile(r.Context(), g, alert)
		source = "template"
		if fromOracle {
			source = "oracle"
		}
	} else {
		text = service.ReconciliationTemplate(g, alert)
		source = "template"
	}

	writeJSON(w, http.StatusOK, reconcileResponse{
		AlertID:        alert.ID,
		Reconciliation: text,
		Source:         source,
	})
}

// GetGraph returns the full commitment graph for a conversation.
func (h *ConversationHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	g, err := h.store.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, g)
}

// GetMetrics returns the epistemic health projection. Unknown conversations
// report a clean slate rather than an error.
func (h *ConversationHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	g, err := h.store.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, h.health.Metrics(domain.NewCommitmentGraph(conversationID)))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, h.health.Metrics(g))
}

// Delete removes a conversation's graph entirely.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	metrics.DriftScore.DeleteLabelValues(conversationID)
	writeJSON(w, http.StatusOK, map[string]string{
		"conversation_id": conversationID,
		"status":          "deleted",
	})
}
