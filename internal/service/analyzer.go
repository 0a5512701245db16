package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/analysis"
	"github.com/continuumhq/continuum/internal/domain"
)

// Engine labels for analysis metadata.
const (
	EngineHeuristic       = "heuristic"
	EngineOracleImmediate = "oracle_immediate"
	EngineHeuristicAsync  = "heuristic_with_pending_verification"
)

// AnalysisResult is what one processed turn produced.
type AnalysisResult struct {
	TurnID              int                       `json:"turn_id"`
	GraphVersion        int                       `json:"graph_version"`
	NewCommitments      []*domain.Commitment      `json:"new_commitments"`
	NewAlerts           []*domain.Alert           `json:"new_alerts"`
	NewEdges            []domain.Edge             `json:"new_edges"`
	Escalation          domain.EscalationDecision `json:"escalation"`
	Drift               DriftSummary              `json:"drift"`
	EngineUsed          string                    `json:"engine_used"`
	OracleCalls         int                       `json:"oracle_calls"`
	OracleOverrides     int                       `json:"oracle_overrides"`
	OracleExtraction    bool                      `json:"oracle_extraction"`
	PendingVerification []string                  `json:"pending_verification,omitempty"`
}

// Analyzer runs the layered pipeline for each turn: heuristics always,
// escalation as gatekeeper, the oracle only when escalation demands it.
// Immediate urgency blocks on the oracle; high and medium defer to the
// background verifier via the returned pending alert ids.
type Analyzer struct {
	extractor        *Extractor
	detector         *Detector
	drift            *DriftAccumulator
	deps             *DependencyGraph
	topics           *TopicTracker
	policy           *EscalationPolicy
	oracle           domain.OracleClient
	oracleExtraction bool
	logger           *zap.Logger
}

// NewAnalyzer wires the pipeline. With oracleExtraction enabled, every turn
// first asks the oracle for structured claims and falls back to pattern
// extraction when the oracle errors or returns nothing.
func NewAnalyzer(
	extractor *Extractor,
	detector *Detector,
	drift *DriftAccumulator,
	deps *DependencyGraph,
	topics *TopicTracker,
	policy *EscalationPolicy,
	oracle domain.OracleClient,
	oracleExtraction bool,
	logger *zap.Logger,
) *Analyzer {
	return &Analyzer{
		extractor:        extractor,
		detector:         detector,
		drift:            drift,
		deps:             deps,
		topics:           topics,
		policy:           policy,
		oracle:           oracle,
		oracleExtraction: oracleExtraction,
		logger:           logger,
	}
}

// Analyze appends the turn to the graph and runs the full pipeline. The
// graph version is bumped exactly once, before any detection, so deferred
// verification tasks can capture it.
func (a *Analyzer) Analyze(ctx context.Context, g *domain.CommitmentGraph, turn domain.Turn) (*AnalysisResult, error) {
	if g.GetTurn(turn.ID) != nil {
		return nil, fmt.Errorf("turn %d already processed for conversation %s", turn.ID, g.ConversationID)
	}
	g.Turns = append(g.Turns, turn)
	g.Version++

	result := &AnalysisResult{
		TurnID:       turn.ID,
		GraphVersion: g.Version,
		EngineUsed:   EngineHeuristic,
	}

	commitments := a.extract(ctx, g, turn, result)

	var alerts []*domain.Alert
	var edges []domain.Edge
	for _, c := range commitments {
		cAlerts, cEdges := a.detector.DetectAll(g, c, len(alerts))
		alerts = append(alerts, cAlerts...)
		edges = append(edges, cEdges...)
	}

	// Commitments join the graph before clustering and dependency updates
	// so both see the complete picture.
	g.Commitments = append(g.Commitments, commitments...)
	a.topics.UpdateStanceHistory(g, commitments)
	for _, c := range commitments {
		edges = append(edges, a.deps.Update(g, c)...)
	}

	g.DriftVelocity = a.drift.Velocity(g)
	if len(alerts) == 0 {
		g.TurnsSinceDrift++
	}
	a.drift.ApplyDecay(g)

	decision := a.policy.Decide(g, commitments, alerts)

	result.NewCommitments = commitments
	result.NewEdges = edges
	result.Escalation = decision

	if decision.ShouldEscalate {
		g.Escalations = append(g.Escalations, domain.EscalationRecord{
			TurnID:            turn.ID,
			Reason:            decision.Reason,
			Urgency:           decision.Urgency,
			Confidence:        decision.Confidence,
			TriggeringFactors: decision.TriggeringFactors,
			Timestamp:         decision.Timestamp,
		})

		switch decision.Urgency {
		case domain.UrgencyImmediate:
			result.EngineUsed = EngineOracleImmediate
			alerts = a.verifyAlerts(ctx, g, alerts, commitments, result)
		case domain.UrgencyHigh, domain.UrgencyMedium:
			result.EngineUsed = EngineHeuristicAsync
			for _, alert := range alerts {
				if alert.Type == domain.AlertPolarityFlip {
					alert.Verification = domain.VerificationPending
					result.PendingVerification = append(result.PendingVerification, alert.ID)
				}
			}
		}
	}

	g.Alerts = append(g.Alerts, alerts...)
	g.Edges = append(g.Edges, edges...)

	result.NewAlerts = alerts
	result.Drift = a.drift.Summary(g)

	a.logger.Info("turn analyzed",
		zap.String("conversation_id", g.ConversationID),
		zap.Int("turn_id", turn.ID),
		zap.Int("version", g.Version),
		zap.Int("commitments", len(commitments)),
		zap.Int("alerts", len(alerts)),
		zap.String("engine", result.EngineUsed),
		zap.Bool("escalated", decision.ShouldEscalate))
	return result, nil
}

// extract produces this turn's commitments. Oracle extraction, when
// enabled, takes precedence; an oracle error or an empty claim list falls
// back to the pattern extractor so every turn is still analyzed.
func (a *Analyzer) extract(ctx context.Context, g *domain.CommitmentGraph, turn domain.Turn, result *AnalysisResult) []*domain.Commitment {
	if !a.oracleExtraction {
		return a.extractor.Extract(g, turn)
	}

	result.OracleCalls++
	claims, err := a.oracle.ExtractClaims(ctx, turn.Text)
	if err != nil || len(claims) == 0 {
		if err != nil {
			a.logger.Warn("oracle extraction failed, falling back to heuristics",
				zap.Int("turn_id", turn.ID), zap.Error(err))
		}
		return a.extractor.Extract(g, turn)
	}

	result.OracleExtraction = true
	commitments := make([]*domain.Commitment, 0, len(claims))
	for i, claim := range claims {
		polarity := claim.Polarity
		switch polarity {
		case domain.PolarityPositive, domain.PolarityNegative, domain.PolarityNeutral:
		default:
			polarity = domain.PolarityNeutral
		}
		confidence := claim.Confidence
		if confidence == 0 {
			confidence = 0.5
		}
		commitments = append(commitments, &domain.Commitment{
			ID:             g.NextCommitmentID(i),
			TurnID:         turn.ID,
			Kind:           domain.KindClaim,
			Normalized:     claim.Claim,
			Polarity:       polarity,
			Confidence:     confidence,
			Assumptions:    claim.Assumptions,
			Active:         true,
			StabilityScore: 1.0,
			TopicAnchor:    analysis.ExtractAnchor(claim.Claim),
			Timestamp:      turn.Timestamp,
		})
	}
	return commitments
}

// verifyAlerts runs blocking oracle verification over polarity flip alerts.
// A confirmed alert gets its severity adjusted by oracle confidence; a
// rejected one is dropped and the rejection survives as an override. Oracle
// failure keeps the heuristic finding untouched.
func (a *Analyzer) verifyAlerts(ctx context.Context, g *domain.CommitmentGraph, alerts []*domain.Alert, commitments []*domain.Commitment, result *AnalysisResult) []*domain.Alert {
	var verified []*domain.Alert
	for _, alert := range alerts {
		if alert.Type != domain.AlertPolarityFlip || len(alert.RelatedCommitments) < 2 {
			verified = append(verified, alert)
			continue
		}

		prior := g.GetCommitment(alert.RelatedCommitments[0])
		var next *domain.Commitment
		for _, c := range commitments {
			if c.ID == alert.RelatedCommitments[1] {
				next = c
				break
			}
		}
		if prior == nil || next == nil {
			verified = append(verified, alert)
			continue
		}

		result.OracleCalls++
		verdict, err := a.oracle.VerifyContradiction(ctx, prior.Normalized, next.Normalized)
		if err != nil {
			a.logger.Warn("oracle verification failed, keeping heuristic alert",
				zap.String("alert_id", alert.ID), zap.Error(err))
			verified = append(verified, alert)
			continue
		}

		if verdict.IsContradiction {
			ApplyVerification(alert, verdict)
			verified = append(verified, alert)
		} else {
			g.Overrides = append(g.Overrides, RejectionOverride(g, alert, verdict))
			result.OracleOverrides++
			a.logger.Info("oracle rejected heuristic alert",
				zap.String("alert_id", alert.ID),
				zap.String("type", verdict.Type))
		}
	}
	return verified
}

// ApplyVerification marks an alert oracle-confirmed and rescales its
// severity by the oracle's confidence.
func ApplyVerification(alert *domain.Alert, verdict *domain.VerificationResult) {
	alert.Message = "Oracle verified: " + verdict.Explanation
	switch {
	case verdict.Confidence >= 0.8:
		alert.Severity = domain.SeverityHigh
	case verdict.Confidence >= 0.6:
		alert.Severity = domain.SeverityMedium
	}
	alert.Verification = domain.VerificationVerified
	alert.VerifierConfidence = verdict.Confidence
}

// RejectionOverride builds the record of the oracle overruling an alert.
func RejectionOverride(g *domain.CommitmentGraph, alert *domain.Alert, verdict *domain.VerificationResult) domain.VerificationOverride {
	reason := verdict.Explanation
	if reason == "" {
		reason = "oracle rejected contradiction"
	}
	return domain.VerificationOverride{
		ID:               g.NextOverrideID(),
		AlertID:          alert.ID,
		Kind:             domain.OverrideRejected,
		OriginalSeverity: alert.Severity,
		OracleSeverity:   "none",
		Reason:           reason,
		Confidence:       verdict.Confidence,
		Timestamp:        time.Now().UTC(),
	}
}

// Reconcile asks the oracle for bridging text between the two commitments
// behind an alert, falling back to a template when the oracle is down.
// The second return reports whether the oracle produced the text.
func (a *Analyzer) Reconcile(ctx context.Context, g *domain.CommitmentGraph, alert *domain.Alert) (string, bool) {
	if len(alert.RelatedCommitments) < 2 {
		return "Unable to generate reconciliation: insufficient context", false
	}
	prior := g.GetCommitment(alert.RelatedCommitments[0])
	next := g.GetCommitment(alert.RelatedCommitments[1])
	if prior == nil || next == nil {
		return "Unable to generate reconciliation: commitments not found", false
	}

	summary := conversationSummary(g, 5)
	rec, err := a.oracle.GenerateReconciliation(ctx, prior.Normalized, next.Normalized, summary)
	if err == nil && rec.Text != "" {
		return rec.Text, true
	}
	if err != nil {
		a.logger.Warn("oracle reconciliation failed, using template", zap.Error(err))
	}
	return fmt.Sprintf(
		"Earlier you stated: '%s'. Now you're saying: '%s'. Can you help clarify what changed?",
		truncate(prior.Normalized, 100), truncate(next.Normalized, 100)), false
}

func conversationSummary(g *domain.CommitmentGraph, window int) string {
	start := 0
	if len(g.Turns) > window {
		start = len(g.Turns) - window
	}
	summary := ""
	for i, t := range g.Turns[start:] {
		if i > 0 {
			summary += " | "
		}
		summary += fmt.Sprintf("%s: %s...", t.Speaker, truncate(t.Text, 50))
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
