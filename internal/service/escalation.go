package service

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/analysis"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/domain"
)

// EscalationPolicy decides when heuristic findings warrant oracle
// verification. Triggers raise the escalation score via max, never sum, and
// recovery damps the final score; the reported reason is always the first
// trigger that fired.
type EscalationPolicy struct {
	cfg    config.EscalationConfig
	drift  *DriftAccumulator
	deps   *DependencyGraph
	topics *TopicTracker
	logger *zap.Logger
}

func NewEscalationPolicy(cfg config.EscalationConfig, drift *DriftAccumulator, deps *DependencyGraph, topics *TopicTracker, logger *zap.Logger) *EscalationPolicy {
	return &EscalationPolicy{cfg: cfg, drift: drift, deps: deps, topics: topics, logger: logger}
}

// Decide evaluates all triggers in fixed order against the current graph
// state and this turn's findings.
func (p *EscalationPolicy) Decide(g *domain.CommitmentGraph, newCommitments []*domain.Commitment, alerts []*domain.Alert) domain.EscalationDecision {
	var triggers []string
	score := 0.0
	urgency := domain.UrgencyLow

	raise := func(trigger string, s float64, u domain.Urgency) {
		triggers = append(triggers, trigger)
		score = math.Max(score, s)
		if u.Rank() > urgency.Rank() {
			urgency = u
		}
	}

	if g.DriftScore > p.cfg.DriftScoreThreshold {
		raise("cumulative_drift_threshold", 0.9, domain.UrgencyHigh)
	}
	if p.drift.Velocity(g) > p.cfg.DriftVelocityThreshold {
		raise("high_drift_velocity", 0.95, domain.UrgencyImmediate)
	}
	if len(p.deps.StructuralBreaks(g)) > 0 {
		raise("structural_break", 1.0, domain.UrgencyImmediate)
	}
	if len(p.topics.UnstableTopics(g)) > 0 {
		triggers = append(triggers, "stance_instability")
		score = math.Max(score, 0.75)
		if urgency == domain.UrgencyLow {
			urgency = domain.UrgencyHigh
		}
	}
	if p.drift.IsRecovering(g) {
		triggers = append(triggers, "drift_recovery")
		score *= 0.7
		urgency = urgency.StepDown()
	}

	for _, alert := range alerts {
		if alert.Severity == domain.SeverityCritical {
			raise("critical_severity", 1.0, domain.UrgencyImmediate)
		}

		if alert.Type != domain.AlertPolarityFlip || len(alert.RelatedCommitments) < 2 {
			continue
		}
		prior := g.GetCommitment(alert.RelatedCommitments[0])
		var next *domain.Commitment
		for _, c := range newCommitments {
			if c.ID == alert.RelatedCommitments[1] {
				next = c
				break
			}
		}
		if prior == nil || next == nil {
			continue
		}

		similarity := analysis.TokenSimilarity(prior.Normalized, next.Normalized)
		confidenceDelta := math.Abs(prior.Confidence - next.Confidence)

		if similarity > p.cfg.HighSimilarityThreshold {
			triggers = append(triggers, "high_similarity")
			score = math.Max(score, 0.75)
			if urgency != domain.UrgencyImmediate && domain.UrgencyHigh.Rank() > urgency.Rank() {
				urgency = domain.UrgencyHigh
			}
			if confidenceDelta > p.cfg.ConfidenceDeltaThreshold {
				triggers = append(triggers, "high_confidence_delta")
				score = math.Max(score, 0.9)
			}
		}
		if next.StabilityScore < p.cfg.StabilityThreshold {
			triggers = append(triggers, "stability_drop")
			score = math.Max(score, 0.7)
			if urgency == domain.UrgencyLow {
				urgency = domain.UrgencyHigh
			}
		}
	}

	if p.recentContradictions(g, 5) >= p.cfg.ContradictionAccumCount {
		triggers = append(triggers, "contradiction_accumulation")
		score = math.Max(score, 0.6)
	}
	for _, alert := range alerts {
		if alert.Type == domain.AlertAssumptionDrop {
			triggers = append(triggers, "assumption_drop")
			score = math.Max(score, 0.6)
			break
		}
	}

	shouldEscalate := score >= p.cfg.EscalationThreshold
	reason := "low_confidence"
	if len(triggers) > 0 {
		reason = triggers[0]
	}
	if !shouldEscalate {
		urgency = domain.UrgencyLow
	}

	decision := domain.EscalationDecision{
		ShouldEscalate:    shouldEscalate,
		Reason:            reason,
		Urgency:           urgency,
		Confidence:        score,
		TriggeringFactors: triggers,
		Timestamp:         time.Now().UTC(),
	}
	if p.logger != nil && shouldEscalate {
		p.logger.Info("escalation triggered",
			zap.String("conversation_id", g.ConversationID),
			zap.String("reason", reason),
			zap.Float64("score", score),
			zap.Strings("factors", triggers))
	}
	return decision
}

// recentContradictions counts polarity flip alerts detected in the last
// window turns.
func (p *EscalationPolicy) recentContradictions(g *domain.CommitmentGraph, window int) int {
	if len(g.Turns) < window {
		window = len(g.Turns)
	}
	if window == 0 {
		return 0
	}
	recent := recentTurnIDs(g, window)
	count := 0
	for _, a := range g.Alerts {
		if a.Type == domain.AlertPolarityFlip && recent[a.DetectedAtTurn] {
			count++
		}
	}
	return count
}
