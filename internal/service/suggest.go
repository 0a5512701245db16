package service

import (
	"fmt"

	"github.com/continuumhq/continuum/internal/domain"
)

var suggestionTemplates = map[domain.AlertType]string{
	domain.AlertPolarityFlip: "Earlier you stated something different about this topic. " +
		"Can you help me understand what changed your perspective?",
	domain.AlertAssumptionDrop: "You previously mentioned this relied on certain assumptions. " +
		"Do those assumptions still hold?",
	domain.AlertAgreementBias: "I notice we both changed our positions quickly. " +
		"Let's take a moment to examine the reasoning - what evidence supports this view?",
	domain.AlertConfidenceDrift: "Your confidence in this claim seems to have shifted. " +
		"What new information influenced this change?",
}

// SuggestedPrompt returns a short reconciliation prompt for an alert type.
func SuggestedPrompt(alert *domain.Alert) string {
	if t, ok := suggestionTemplates[alert.Type]; ok {
		return t
	}
	return "Can you clarify this point?"
}

// HighestSeverity picks the worst alert from a batch, or nil when empty.
func HighestSeverity(alerts []*domain.Alert) *domain.Alert {
	var worst *domain.Alert
	for _, a := range alerts {
		if worst == nil || a.Severity.Rank() > worst.Severity.Rank() {
			worst = a
		}
	}
	return worst
}

// ReconciliationTemplate builds detailed reconciliation text from the
// commitments behind an alert, without calling the oracle.
func ReconciliationTemplate(g *domain.CommitmentGraph, alert *domain.Alert) string {
	var related []*domain.Commitment
	for _, id := range alert.RelatedCommitments {
		if c := g.GetCommitment(id); c != nil {
			related = append(related, c)
		}
	}
	if len(related) == 0 {
		return "Could you help reconcile the inconsistency I noticed?"
	}

	prior := related[0]
	var later *domain.Commitment
	if len(related) > 1 {
		later = related[len(related)-1]
	}

	switch {
	case alert.Type == domain.AlertPolarityFlip && later != nil:
		return fmt.Sprintf(
			"I noticed an inconsistency:\n\n"+
				"Earlier (turn %d), you indicated: %q\n\n"+
				"But later (turn %d), you suggested: %q\n\n"+
				"These seem contradictory. Can you clarify which understanding is correct, "+
				"or explain what new information changed the position?",
			prior.TurnID, truncate(prior.Normalized, 100),
			later.TurnID, truncate(later.Normalized, 100))
	case alert.Type == domain.AlertAssumptionDrop:
		return fmt.Sprintf(
			"Earlier you made a claim that relied on certain assumptions (turn %d). "+
				"In later turns, those assumptions weren't mentioned. Do they still apply? "+
				"If not, does the original claim need revision?",
			prior.TurnID)
	default:
		return fmt.Sprintf("Can you help me understand the reasoning behind the %s signal?", alert.Type)
	}
}
