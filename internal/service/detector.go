package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/analysis"
	"github.com/continuumhq/continuum/internal/domain"
)

const (
	// Commitments below this confidence are too uncertain to flag.
	minFlagConfidence = 0.3
	// Candidate window of prior active commitments for contradiction checks.
	contradictionWindow = 10
	// Similarity gates for the supplementary detectors.
	assumptionDropSimilarity  = 0.6
	agreementBiasSimilarity   = 0.5
	confidenceDriftSimilarity = 0.7
	confidenceDriftDelta      = 0.4
)

// Contrast markers that, combined with any polarity shift, count as an
// explicit contradiction even without strict polarity opposition.
var contrastMarkers = []string{
	"actually", "but", "however", "instead", "rather", "on the other hand",
}

// Detector runs the local drift heuristics over each new commitment. These
// are cheap and deterministic; the oracle verifier later confirms or
// rejects what they flag.
type Detector struct {
	drift  *DriftAccumulator
	logger *zap.Logger
}

func NewDetector(drift *DriftAccumulator, logger *zap.Logger) *Detector {
	return &Detector{drift: drift, logger: logger}
}

// DetectAll runs every heuristic against one freshly extracted commitment.
// pending is the number of alerts already produced for this turn but not
// yet appended to the graph, so ids stay unique across commitments.
// Returned alerts and edges have not been appended to the graph; the drift
// event from a polarity flip is recorded as a side effect of accumulation.
func (d *Detector) DetectAll(g *domain.CommitmentGraph, c *domain.Commitment, pending int) ([]*domain.Alert, []domain.Edge) {
	var alerts []*domain.Alert
	var edges []domain.Edge

	if alert, edge := d.DetectPolarityFlip(g, c); alert != nil {
		alert.ID = g.NextAlertID(pending + len(alerts))
		alerts = append(alerts, alert)
		if edge != nil {
			edges = append(edges, *edge)
		}
	}
	if alert := d.DetectAssumptionDrop(g, c); alert != nil {
		alert.ID = g.NextAlertID(pending + len(alerts))
		alerts = append(alerts, alert)
	}
	if len(g.Turns) >= 3 {
		if alert := d.DetectAgreementBias(g, c); alert != nil {
			alert.ID = g.NextAlertID(pending + len(alerts))
			alerts = append(alerts, alert)
		}
	}
	if alert := d.DetectConfidenceDrift(g, c); alert != nil {
		alert.ID = g.NextAlertID(pending + len(alerts))
		alerts = append(alerts, alert)
	}
	return alerts, edges
}

// DetectPolarityFlip finds contradictions against prior commitments on the
// same topic anchor. The anchor match is the primary gate; opposite polarity
// (or any polarity shift alongside an explicit contrast marker) confirms the
// contradiction, and similarity only weights severity.
func (d *Detector) DetectPolarityFlip(g *domain.CommitmentGraph, c *domain.Commitment) (*domain.Alert, *domain.Edge) {
	if c.Confidence < minFlagConfidence || c.TopicAnchor == "" {
		return nil, nil
	}
	turn := g.GetTurn(c.TurnID)
	if turn == nil {
		return nil, nil
	}

	lowerText := strings.ToLower(turn.Text)
	hasMarker := false
	for _, m := range contrastMarkers {
		if strings.Contains(lowerText, m) {
			hasMarker = true
			break
		}
	}

	type match struct {
		prior           *domain.Commitment
		similarity      float64
		confidenceDelta float64
		recency         float64
		score           float64
	}
	var best *match

	for _, prior := range recentActivePriors(g, c) {
		if prior.TopicAnchor == "" || prior.TopicAnchor != c.TopicAnchor {
			continue
		}

		contradiction := prior.Polarity.Opposite(c.Polarity) ||
			(hasMarker && prior.Polarity != c.Polarity)
		if !contradiction {
			continue
		}

		similarity := analysis.TokenSimilarity(prior.Normalized, c.Normalized)
		confidenceDelta := math.Abs(c.Confidence - prior.Confidence)
		recency := recencyWeight(g, prior, c)
		score := 0.5*1.0 + 0.2*confidenceDelta + 0.2*recency + 0.1*similarity

		if best == nil || score > best.score {
			best = &match{prior, similarity, confidenceDelta, recency, score}
		}
	}
	if best == nil {
		return nil, nil
	}

	event := d.drift.Accumulate(g, best.prior, c, best.similarity, best.confidenceDelta, best.recency)

	penalty := best.score * 0.3
	best.prior.StabilityScore = math.Max(0.0, best.prior.StabilityScore-penalty)
	c.StabilityScore = math.Max(0.0, c.StabilityScore-penalty)
	c.ContradictedBy = append(c.ContradictedBy, best.prior.ID)

	var desc string
	switch {
	case best.prior.Polarity == domain.PolarityPositive && c.Polarity == domain.PolarityNegative:
		desc = "earlier claim was positive, now negative"
	case best.prior.Polarity == domain.PolarityNegative && c.Polarity == domain.PolarityPositive:
		desc = "earlier claim was negative, now positive"
	default:
		desc = "statement contradicts earlier claim"
	}

	alert := &domain.Alert{
		Severity: severityForScore(best.score),
		Type:     domain.AlertPolarityFlip,
		Message: fmt.Sprintf("Detected contradiction: %s (similarity: %.2f, confidence shift: %.2f, drift_magnitude: %.2f)",
			desc, best.similarity, best.confidenceDelta, event.Magnitude),
		RelatedCommitments: []string{best.prior.ID, c.ID},
		RelatedTurns:       []int{best.prior.TurnID, c.TurnID},
		DetectedAtTurn:     c.TurnID,
		Verification:       domain.VerificationUnverified,
		DriftEventID:       event.ID,
		Timestamp:          time.Now().UTC(),
	}
	edge := &domain.Edge{
		Source:         c.ID,
		Target:         best.prior.ID,
		Relation:       domain.RelationContradicts,
		Weight:         best.score,
		DetectedAtTurn: c.TurnID,
	}

	if d.logger != nil {
		d.logger.Debug("polarity flip detected",
			zap.String("prior", best.prior.ID),
			zap.String("current", c.ID),
			zap.Float64("severity_score", best.score))
	}
	return alert, edge
}

// DetectAssumptionDrop flags a commitment that resembles a prior one whose
// stated assumptions are no longer mentioned.
func (d *Detector) DetectAssumptionDrop(g *domain.CommitmentGraph, c *domain.Commitment) *domain.Alert {
	if c.Kind == domain.KindAssumption {
		return nil
	}
	for _, prior := range g.Commitments {
		if prior.TurnID >= c.TurnID || len(prior.Assumptions) == 0 {
			continue
		}
		if analysis.TokenSimilarity(prior.Normalized, c.Normalized) <= assumptionDropSimilarity {
			continue
		}

		var assumptionText string
		for _, a := range g.Assumptions {
			if contains(prior.Assumptions, a.ID) {
				assumptionText = a.Text
				break
			}
		}
		if assumptionText == "" {
			continue
		}
		if len(assumptionText) > 100 {
			assumptionText = assumptionText[:100]
		}

		return &domain.Alert{
			Severity:           domain.SeverityMedium,
			Type:               domain.AlertAssumptionDrop,
			Message:            "Prior claim relied on assumptions that are no longer mentioned",
			RelatedCommitments: []string{prior.ID, c.ID},
			RelatedTurns:       []int{prior.TurnID, c.TurnID},
			DetectedAtTurn:     c.TurnID,
			SuggestedAction:    "Verify if assumption still holds: " + assumptionText,
			Verification:       domain.VerificationUnverified,
			Timestamp:          time.Now().UTC(),
		}
	}
	return nil
}

// DetectAgreementBias flags the pattern where both user and model flip
// positions within the last three turns, a sign of unexamined convergence.
func (d *Detector) DetectAgreementBias(g *domain.CommitmentGraph, c *domain.Commitment) *domain.Alert {
	if len(g.Turns) < 3 {
		return nil
	}
	recentTurns := g.Turns[len(g.Turns)-3:]
	recentIDs := map[int]bool{}
	for _, t := range recentTurns {
		recentIDs[t.ID] = true
	}

	var recent []*domain.Commitment
	for _, rc := range g.Commitments {
		if recentIDs[rc.TurnID] {
			recent = append(recent, rc)
		}
	}

	userFlip, modelFlip := false, false
	for i := 0; i+1 < len(recent); i++ {
		curr, next := recent[i], recent[i+1]
		currTurn, nextTurn := g.GetTurn(curr.TurnID), g.GetTurn(next.TurnID)
		if currTurn == nil || nextTurn == nil {
			continue
		}
		if analysis.TokenSimilarity(curr.Normalized, next.Normalized) <= agreementBiasSimilarity ||
			curr.Polarity == next.Polarity {
			continue
		}
		if currTurn.Speaker == domain.SpeakerUser && nextTurn.Speaker == domain.SpeakerModel {
			modelFlip = true
		} else if currTurn.Speaker == domain.SpeakerModel && nextTurn.Speaker == domain.SpeakerUser {
			userFlip = true
		}
	}
	if !userFlip || !modelFlip {
		return nil
	}

	var relatedCommitments []string
	for _, rc := range recent[max(0, len(recent)-2):] {
		relatedCommitments = append(relatedCommitments, rc.ID)
	}
	var relatedTurns []int
	for _, t := range recentTurns[1:] {
		relatedTurns = append(relatedTurns, t.ID)
	}

	return &domain.Alert{
		Severity:           domain.SeverityMedium,
		Type:               domain.AlertAgreementBias,
		Message:            "Both user and model changed positions rapidly without clear justification",
		RelatedCommitments: relatedCommitments,
		RelatedTurns:       relatedTurns,
		DetectedAtTurn:     c.TurnID,
		Verification:       domain.VerificationUnverified,
		Timestamp:          time.Now().UTC(),
	}
}

// DetectConfidenceDrift flags a large confidence swing on near-identical
// claims.
func (d *Detector) DetectConfidenceDrift(g *domain.CommitmentGraph, c *domain.Commitment) *domain.Alert {
	for _, prior := range g.Commitments {
		if prior.TurnID >= c.TurnID {
			continue
		}
		if analysis.TokenSimilarity(prior.Normalized, c.Normalized) <= confidenceDriftSimilarity {
			continue
		}
		delta := math.Abs(c.Confidence - prior.Confidence)
		if delta <= confidenceDriftDelta {
			continue
		}
		return &domain.Alert{
			Severity:           domain.SeverityLow,
			Type:               domain.AlertConfidenceDrift,
			Message:            fmt.Sprintf("Confidence changed significantly: %.1f to %.1f", prior.Confidence, c.Confidence),
			RelatedCommitments: []string{prior.ID, c.ID},
			RelatedTurns:       []int{prior.TurnID, c.TurnID},
			DetectedAtTurn:     c.TurnID,
			Verification:       domain.VerificationUnverified,
			Timestamp:          time.Now().UTC(),
		}
	}
	return nil
}

// recentActivePriors returns the most recent active commitments from
// earlier turns, newest first, capped at the contradiction window.
func recentActivePriors(g *domain.CommitmentGraph, c *domain.Commitment) []*domain.Commitment {
	var priors []*domain.Commitment
	for _, p := range g.Commitments {
		if p.TurnID < c.TurnID && p.Active {
			priors = append(priors, p)
		}
	}
	sort.SliceStable(priors, func(i, j int) bool {
		return priors[i].TurnID > priors[j].TurnID
	})
	if len(priors) > contradictionWindow {
		priors = priors[:contradictionWindow]
	}
	return priors
}

func severityForScore(score float64) domain.Severity {
	switch {
	case score >= 0.7:
		return domain.SeverityCritical
	case score >= 0.5:
		return domain.SeverityHigh
	case score >= 0.3:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
