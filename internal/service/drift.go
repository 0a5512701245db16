package service

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/domain"
)

// DriftSummary is the accumulator's view of a graph's longitudinal state.
type DriftSummary struct {
	CumulativeScore float64 `json:"cumulative_drift_score"`
	Velocity        float64 `json:"drift_velocity"`
	TurnsSinceDrift int     `json:"turns_since_last_drift"`
	TotalEvents     int     `json:"total_drift_events"`
	LastDriftTurn   int     `json:"last_drift_update_turn"`
	IsRecovering    bool    `json:"is_recovering"`
}

// DriftAccumulator maintains the cumulative drift score, its velocity, and
// the decay that lets conversations recover after stable stretches.
type DriftAccumulator struct {
	cfg    config.DriftConfig
	deps   *DependencyGraph
	logger *zap.Logger
}

func NewDriftAccumulator(cfg config.DriftConfig, deps *DependencyGraph, logger *zap.Logger) *DriftAccumulator {
	return &DriftAccumulator{cfg: cfg, deps: deps, logger: logger}
}

// Magnitude computes a single contradiction's drift contribution. The
// anchor-match component is fixed at 0.5 because callers only invoke this
// after anchors have already matched.
func (d *DriftAccumulator) Magnitude(g *domain.CommitmentGraph, prior, next *domain.Commitment, similarity float64) float64 {
	confidenceDelta := math.Abs(next.Confidence - prior.Confidence)
	return 0.5*1.0 +
		0.2*confidenceDelta +
		0.2*recencyWeight(g, prior, next) +
		0.1*similarity
}

// Accumulate records a drift event and bumps the graph's cumulative score.
// The stability counter resets so decay starts over.
func (d *DriftAccumulator) Accumulate(g *domain.CommitmentGraph, prior, next *domain.Commitment, similarity, confidenceDelta, recency float64) domain.DriftEvent {
	magnitude := d.Magnitude(g, prior, next, similarity)

	event := domain.DriftEvent{
		ID:              g.NextDriftEventID(),
		CommitmentA:     prior.ID,
		CommitmentB:     next.ID,
		Similarity:      similarity,
		ConfidenceDelta: confidenceDelta,
		RecencyWeight:   recency,
		DependencyDepth: d.deps.Depth(g, prior.ID),
		Magnitude:       magnitude,
		DetectedAtTurn:  next.TurnID,
		Timestamp:       time.Now().UTC(),
	}

	g.DriftEvents = append(g.DriftEvents, event)
	g.DriftScore += magnitude
	g.TurnsSinceDrift = 0
	g.LastDriftTurn = next.TurnID

	if d.logger != nil {
		d.logger.Debug("drift accumulated",
			zap.String("event_id", event.ID),
			zap.Float64("magnitude", magnitude),
			zap.Float64("cumulative", g.DriftScore))
	}
	return event
}

// Velocity is the drift accumulated per turn over the recent window. With
// fewer turns than the window, the divisor is the actual turn count.
func (d *DriftAccumulator) Velocity(g *domain.CommitmentGraph) float64 {
	if len(g.Turns) == 0 {
		return 0.0
	}

	recent := recentTurnIDs(g, d.cfg.VelocityWindow)
	var total float64
	for _, ev := range g.DriftEvents {
		if recent[ev.DetectedAtTurn] {
			total += ev.Magnitude
		}
	}
	return total / float64(len(recent))
}

// ApplyDecay shrinks the cumulative score once the conversation has been
// stable for enough consecutive turns.
func (d *DriftAccumulator) ApplyDecay(g *domain.CommitmentGraph) {
	if g.TurnsSinceDrift < d.cfg.StableTurnsNeeded {
		return
	}
	g.DriftScore = math.Max(0.0, g.DriftScore*d.cfg.DecayFactor)
}

// IsRecovering reports whether drift is trending down: no events in the
// recent window and the cumulative score has fallen below 1.0.
func (d *DriftAccumulator) IsRecovering(g *domain.CommitmentGraph) bool {
	if len(g.Turns) < d.cfg.VelocityWindow {
		return false
	}
	recent := recentTurnIDs(g, d.cfg.VelocityWindow)
	for _, ev := range g.DriftEvents {
		if recent[ev.DetectedAtTurn] {
			return false
		}
	}
	return g.DriftScore < 1.0
}

func (d *DriftAccumulator) Summary(g *domain.CommitmentGraph) DriftSummary {
	return DriftSummary{
		CumulativeScore: round3(g.DriftScore),
		Velocity:        round3(d.Velocity(g)),
		TurnsSinceDrift: g.TurnsSinceDrift,
		TotalEvents:     len(g.DriftEvents),
		LastDriftTurn:   g.LastDriftTurn,
		IsRecovering:    d.IsRecovering(g),
	}
}

// recencyWeight favors contradictions of recent commitments over old ones,
// normalized by conversation length.
func recencyWeight(g *domain.CommitmentGraph, prior, next *domain.Commitment) float64 {
	maxGap := len(g.Turns)
	if maxGap == 0 {
		maxGap = 1
	}
	gap := float64(next.TurnID - prior.TurnID)
	return 1.0 - math.Min(gap/float64(maxGap), 1.0)
}

func recentTurnIDs(g *domain.CommitmentGraph, window int) map[int]bool {
	start := 0
	if len(g.Turns) > window {
		start = len(g.Turns) - window
	}
	ids := make(map[int]bool, len(g.Turns)-start)
	for _, t := range g.Turns[start:] {
		ids[t.ID] = true
	}
	return ids
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
