package service

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/analysis"
	"github.com/continuumhq/continuum/internal/domain"
)

// Trivial turns carry no epistemic content and yield no commitments.
var trivialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(ok|okay|yes|no|thanks|sure|got it)\.?$`),
	regexp.MustCompile(`^[\x{1F44D}\x{1F44E}\x{1F60A}\x{1F642}]+$`),
}

type claimPattern struct {
	re   *regexp.Regexp
	kind domain.CommitmentKind
}

var claimPatterns = []claimPattern{
	{regexp.MustCompile(`(?i)(?:I think|I believe|It seems|It appears) (.+)`), domain.KindClaim},
	{regexp.MustCompile(`(?i)(?:The fact is|Actually|In reality) (.+)`), domain.KindClaim},
	{regexp.MustCompile(`(?i)(?:We should|We must|Let's) (.+)`), domain.KindGoal},
	{regexp.MustCompile(`(?i)(?:Assuming|Given that|If) (.+)`), domain.KindAssumption},
}

var (
	hedgeWords  = []string{"maybe", "perhaps", "possibly", "might", "could", "seems", "appears"}
	strongWords = []string{"definitely", "certainly", "absolutely", "clearly", "obviously"}
)

const genericClaimMinLen = 20

// Extractor turns raw turn text into commitments using pattern matching.
// It is the fallback path when the oracle is unavailable and the first
// pass even when it is not.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract pulls commitments out of a turn. A turn that matches no claim
// pattern but carries enough text still produces one generic claim, so
// every substantive turn contributes to the graph.
func (e *Extractor) Extract(g *domain.CommitmentGraph, turn domain.Turn) []*domain.Commitment {
	text := strings.TrimSpace(turn.Text)
	for _, p := range trivialPatterns {
		if p.MatchString(text) {
			return nil
		}
	}

	var commitments []*domain.Commitment
	for _, cp := range claimPatterns {
		for _, m := range cp.re.FindAllStringSubmatch(text, -1) {
			normalized := strings.TrimSpace(m[1])
			commitments = append(commitments, &domain.Commitment{
				ID:             g.NextCommitmentID(len(commitments)),
				TurnID:         turn.ID,
				Kind:           cp.kind,
				Normalized:     normalized,
				Polarity:       analysis.InferPolarity(m[1]),
				Confidence:     inferConfidence(text),
				Active:         true,
				StabilityScore: 1.0,
				TopicAnchor:    analysis.ExtractAnchor(normalized),
				Timestamp:      turn.Timestamp,
			})
		}
	}

	if len(commitments) == 0 && len(text) > genericClaimMinLen {
		normalized := text
		if len(normalized) > 200 {
			normalized = normalized[:200]
		}
		commitments = append(commitments, &domain.Commitment{
			ID:             g.NextCommitmentID(0),
			TurnID:         turn.ID,
			Kind:           domain.KindClaim,
			Normalized:     normalized,
			Polarity:       analysis.InferPolarity(text),
			Confidence:     inferConfidence(text),
			Active:         true,
			StabilityScore: 1.0,
			TopicAnchor:    analysis.ExtractAnchor(normalized),
			Timestamp:      turn.Timestamp,
		})
	}

	if e.logger != nil && len(commitments) > 0 {
		e.logger.Debug("extracted commitments",
			zap.Int("turn_id", turn.ID),
			zap.Int("count", len(commitments)))
	}
	return commitments
}

// inferConfidence reads hedging language. Strong markers beat hedges.
func inferConfidence(text string) float64 {
	lower := strings.ToLower(text)
	for _, w := range strongWords {
		if strings.Contains(lower, w) {
			return 0.9
		}
	}
	for _, w := range hedgeWords {
		if strings.Contains(lower, w) {
			return 0.5
		}
	}
	return 0.7
}
