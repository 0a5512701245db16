package service

import (
	"math"

	"github.com/continuumhq/continuum/internal/domain"
)

// CommitmentCounts breaks down commitment lifecycle state.
type CommitmentCounts struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	Inactive     int     `json:"inactive"`
	InactiveRate float64 `json:"inactive_rate"`
}

// ContradictionStats covers the contradiction edges in the graph.
type ContradictionStats struct {
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// StabilityStats aggregates commitment stability scores.
type StabilityStats struct {
	Average float64 `json:"average"`
	Minimum float64 `json:"minimum"`
}

// AlertStats tallies alerts by type and severity.
type AlertStats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
}

// EscalationStats summarizes the escalation records.
type EscalationStats struct {
	Total                int            `json:"total_escalations"`
	Rate                 float64        `json:"escalation_rate"`
	Reasons              map[string]int `json:"escalation_reasons"`
	UrgencyDistribution  map[string]int `json:"urgency_distribution"`
	AvgStabilityAtEscala float64        `json:"avg_stability_at_escalation"`
}

// OracleStats summarizes the oracle's authority over heuristic findings.
type OracleStats struct {
	TotalOverrides    int     `json:"total_overrides"`
	Rejections        int     `json:"rejections"`
	Upgrades          int     `json:"upgrades"`
	Downgrades        int     `json:"downgrades"`
	PrecisionEstimate float64 `json:"precision_estimate"`
	PendingTasks      int     `json:"pending_verification_tasks"`
}

// StanceStats summarizes per-topic stance tracking.
type StanceStats struct {
	TopicsTracked    int                `json:"topics_tracked"`
	TotalStancePoint int                `json:"total_stance_points"`
	TopicVariances   map[string]float64 `json:"topic_variances"`
}

// EpistemicMetrics is the full health projection of one conversation.
type EpistemicMetrics struct {
	ConversationID string             `json:"conversation_id"`
	Commitments    CommitmentCounts   `json:"commitments"`
	Contradictions ContradictionStats `json:"contradictions"`
	Stability      StabilityStats     `json:"stability"`
	Alerts         AlertStats         `json:"alerts"`
	HealthScore    float64            `json:"health_score"`
	TurnsAnalyzed  int                `json:"turns_analyzed"`
	Escalation     EscalationStats    `json:"escalation"`
	Oracle         OracleStats        `json:"oracle_authority"`
	Drift          DriftSummary       `json:"drift"`
	Stance         StanceStats        `json:"stance_tracking"`
	Dependencies   DependencyMetrics  `json:"dependencies"`
}

// HealthReporter projects a graph into its epistemic health metrics.
type HealthReporter struct {
	drift *DriftAccumulator
	deps  *DependencyGraph
}

func NewHealthReporter(drift *DriftAccumulator, deps *DependencyGraph) *HealthReporter {
	return &HealthReporter{drift: drift, deps: deps}
}

// Metrics computes the full projection. The health score starts at 100 and
// loses points for contradiction rate, stability loss, deactivated
// commitments, and severe alerts, clamped to [0, 100].
func (h *HealthReporter) Metrics(g *domain.CommitmentGraph) EpistemicMetrics {
	total := len(g.Commitments)
	active := len(g.ActiveCommitments())
	inactive := total - active

	contradictions := g.CountContradictions()

	avgStability, minStability := 1.0, 1.0
	if total > 0 {
		var sum float64
		minStability = g.Commitments[0].StabilityScore
		for _, c := range g.Commitments {
			sum += c.StabilityScore
			if c.StabilityScore < minStability {
				minStability = c.StabilityScore
			}
		}
		avgStability = sum / float64(total)
	}

	byType := map[string]int{
		string(domain.AlertPolarityFlip):    0,
		string(domain.AlertAssumptionDrop):  0,
		string(domain.AlertAgreementBias):   0,
		string(domain.AlertConfidenceDrift): 0,
	}
	bySeverity := map[string]int{
		string(domain.SeverityCritical): 0,
		string(domain.SeverityHigh):     0,
		string(domain.SeverityMedium):   0,
		string(domain.SeverityLow):      0,
	}
	pendingTasks := 0
	for _, a := range g.Alerts {
		byType[string(a.Type)]++
		bySeverity[string(a.Severity)]++
		if a.Verification == domain.VerificationPending {
			pendingTasks++
		}
	}

	health := 100.0
	if total > 0 {
		health -= float64(contradictions) / float64(total) * 30
		health -= (1.0 - avgStability) * 20
		health -= float64(inactive) / float64(total) * 15
		health -= float64(bySeverity[string(domain.SeverityCritical)]) * 10
		health -= float64(bySeverity[string(domain.SeverityHigh)]) * 5
	}
	health = math.Max(0, math.Min(100, health))

	inactiveRate, contradictionRate := 0.0, 0.0
	if total > 0 {
		inactiveRate = float64(inactive) / float64(total)
		contradictionRate = float64(contradictions) / float64(total)
	}

	return EpistemicMetrics{
		ConversationID: g.ConversationID,
		Commitments: CommitmentCounts{
			Total:        total,
			Active:       active,
			Inactive:     inactive,
			InactiveRate: inactiveRate,
		},
		Contradictions: ContradictionStats{Count: contradictions, Rate: contradictionRate},
		Stability: StabilityStats{
			Average: round3(avgStability),
			Minimum: round3(minStability),
		},
		Alerts: AlertStats{
			Total:      len(g.Alerts),
			ByType:     byType,
			BySeverity: bySeverity,
		},
		HealthScore:   math.Round(health*10) / 10,
		TurnsAnalyzed: len(g.Turns),
		Escalation:    h.escalationStats(g),
		Oracle:        h.oracleStats(g, pendingTasks),
		Drift:         h.drift.Summary(g),
		Stance:        stanceStats(g),
		Dependencies:  h.deps.Metrics(g),
	}
}

func (h *HealthReporter) escalationStats(g *domain.CommitmentGraph) EscalationStats {
	reasons := make(map[string]int)
	urgencies := map[string]int{
		string(domain.UrgencyImmediate): 0,
		string(domain.UrgencyHigh):      0,
		string(domain.UrgencyMedium):    0,
		string(domain.UrgencyLow):       0,
	}
	escalatedTurns := make(map[int]bool)
	for _, e := range g.Escalations {
		reasons[e.Reason]++
		urgencies[string(e.Urgency)]++
		escalatedTurns[e.TurnID] = true
	}

	avgStability := 1.0
	var sum float64
	n := 0
	for _, c := range g.Commitments {
		if escalatedTurns[c.TurnID] {
			sum += c.StabilityScore
			n++
		}
	}
	if n > 0 {
		avgStability = sum / float64(n)
	}

	turns := len(g.Turns)
	if turns == 0 {
		turns = 1
	}
	return EscalationStats{
		Total:                len(g.Escalations),
		Rate:                 round3(float64(len(g.Escalations)) / float64(turns)),
		Reasons:              reasons,
		UrgencyDistribution:  urgencies,
		AvgStabilityAtEscala: round3(avgStability),
	}
}

func (h *HealthReporter) oracleStats(g *domain.CommitmentGraph, pendingTasks int) OracleStats {
	rejections, upgrades, downgrades := 0, 0, 0
	var confidence float64
	for _, o := range g.Overrides {
		confidence += o.Confidence
		switch o.Kind {
		case domain.OverrideRejected:
			rejections++
		case domain.OverrideUpgraded:
			upgrades++
		case domain.OverrideDowngraded:
			downgrades++
		}
	}
	precision := 1.0
	if len(g.Overrides) > 0 {
		precision = confidence / float64(len(g.Overrides))
	}
	return OracleStats{
		TotalOverrides:    len(g.Overrides),
		Rejections:        rejections,
		Upgrades:          upgrades,
		Downgrades:        downgrades,
		PrecisionEstimate: round3(precision),
		PendingTasks:      pendingTasks,
	}
}

func stanceStats(g *domain.CommitmentGraph) StanceStats {
	variances := make(map[string]float64, len(g.StanceHistory))
	points := 0
	for topicID, history := range g.StanceHistory {
		points += len(history)
		variances[topicID] = round3(StanceVariance(history))
	}
	return StanceStats{
		TopicsTracked:    len(g.StanceHistory),
		TotalStancePoint: points,
		TopicVariances:   variances,
	}
}
