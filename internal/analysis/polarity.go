package analysis

import (
	"regexp"
	"strings"

	"github.com/continuumhq/continuum/internal/domain"
)

// polarityFloor is the minimum winning magnitude; anything weaker is neutral.
const polarityFloor = 0.25

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

// Negation scope: "not [article] good" flips a positive word negative, and
// "not bad" reads positive. Articles between the negator and the word are
// tolerated.
var negatedPositivePatterns = []weightedPattern{
	{regexp.MustCompile(`\b(?:not|no|never|n't)\s+(?:a|an|the)?\s*(?:good|great|excellent|better|best|essential|important|valuable|beneficial|should|must|can|recommend|prefer|ideal)\b`), -1.5},
	{regexp.MustCompile(`\b(?:shouldn't|can't|won't|don't|isn't|aren't)\b`), -0.8},
	{regexp.MustCompile(`\bdisagree\b`), -0.7},
}

var negatedNegativePatterns = []weightedPattern{
	{regexp.MustCompile(`\b(?:not|no|never)\s+(?:bad|wrong|terrible|worse|worst|avoid|poor)\b`), 0.8},
}

var positiveComparatives = []weightedPattern{
	{regexp.MustCompile(`\b(?:better|superior|improved|enhanced|preferable|more\s+effective)\b`), 1.0},
	{regexp.MustCompile(`\b(?:best|optimal|ideal|perfect)\b`), 1.2},
}

var negativeComparatives = []weightedPattern{
	{regexp.MustCompile(`\b(?:worse|inferior|degraded|less\s+effective|problematic)\b`), -1.0},
	{regexp.MustCompile(`\b(?:worst|terrible|awful)\b`), -1.2},
}

var affirmativeModals = []weightedPattern{
	{regexp.MustCompile(`\b(?:should|must|ought\s+to|need\s+to)\s+(?:[a-z]+)`), 0.8},
	{regexp.MustCompile(`\b(?:will|can)\s+(?:[a-z]+)`), 0.6},
}

var negatedModals = []weightedPattern{
	{regexp.MustCompile(`\b(?:should\s+not|shouldn't|must\s+not|mustn't|cannot|can't)\b`), -0.8},
	{regexp.MustCompile(`\b(?:won't|will\s+not)\b`), -0.6},
}

// Uncertainty modals damp whatever the other signals found.
var uncertaintyModals = []weightedPattern{
	{regexp.MustCompile(`\b(?:might|may|could|perhaps|possibly|maybe)\b`), -0.2},
}

var positiveSentiment = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:agree|correct|true|yes|right)\b`),
	regexp.MustCompile(`\b(?:good|great|excellent|wonderful|fantastic|essential|important|valuable|beneficial)\b`),
	regexp.MustCompile(`\b(?:recommend|endorse|support|advocate)\b`),
	regexp.MustCompile(`\b(?:safe|secure|reliable|stable)\b`),
}

var negativeSentiment = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:disagree|false|wrong|incorrect)\b`),
	regexp.MustCompile(`\b(?:bad|poor|terrible|awful|horrible|harmful|useless|pointless|unnecessary)\b`),
	regexp.MustCompile(`\b(?:avoid|discourage|oppose|reject)\b`),
	regexp.MustCompile(`\b(?:unsafe|dangerous|risky|unstable)\b`),
}

// InferPolarity infers the stance of a statement from structure alone:
// negation scope, comparative constructions, modal verbs in context, and
// lexical sentiment. Pure function of the text.
func InferPolarity(text string) domain.Polarity {
	f := Features(text)

	var positive, negative float64
	for _, score := range []float64{f.Negation, f.Comparative, f.Modal, f.Sentiment} {
		if score < 0 {
			negative += -score
		} else {
			positive += score
		}
	}

	switch {
	case negative > positive && negative > polarityFloor:
		return domain.PolarityNegative
	case positive > negative && positive > polarityFloor:
		return domain.PolarityPositive
	default:
		return domain.PolarityNeutral
	}
}

// PolarityFeatures is the per-analysis score breakdown, exposed for
// debugging and explanation surfaces.
type PolarityFeatures struct {
	Negation    float64 `json:"negation_score"`
	Comparative float64 `json:"comparative_score"`
	Modal       float64 `json:"modal_score"`
	Sentiment   float64 `json:"sentiment_score"`
}

func Features(text string) PolarityFeatures {
	t := strings.ToLower(strings.TrimSpace(text))
	return PolarityFeatures{
		Negation:    scorePatterns(t, negatedPositivePatterns, negatedNegativePatterns),
		Comparative: scorePatterns(t, positiveComparatives, negativeComparatives),
		Modal:       modalScore(t),
		Sentiment:   sentimentScore(t),
	}
}

func scorePatterns(text string, groups ...[]weightedPattern) float64 {
	var score float64
	for _, group := range groups {
		for _, p := range group {
			if p.re.MatchString(text) {
				score += p.weight
			}
		}
	}
	return score
}

func modalScore(text string) float64 {
	// Affirmative modal patterns would also match their negated forms
	// ("should not do"), so a negated-modal hit suppresses them.
	negated := scorePatterns(text, negatedModals)
	score := negated
	if negated == 0 {
		score += scorePatterns(text, affirmativeModals)
	}
	return score + scorePatterns(text, uncertaintyModals)
}

func sentimentScore(text string) float64 {
	var pos, neg int
	for _, re := range positiveSentiment {
		if re.MatchString(text) {
			pos++
		}
	}
	for _, re := range negativeSentiment {
		if re.MatchString(text) {
			neg++
		}
	}
	net := float64(pos-neg) * 0.3
	if net > 1.0 {
		return 1.0
	}
	if net < -1.0 {
		return -1.0
	}
	return net
}
