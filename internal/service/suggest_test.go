package service

import (
	"strings"
	"testing"

	"github.com/continuumhq/continuum/internal/domain"
)

func TestSuggestedPrompt(t *testing.T) {
	tests := []struct {
		alertType domain.AlertType
		want      string
	}{
		{domain.AlertPolarityFlip, "what changed your perspective"},
		{domain.AlertAssumptionDrop, "assumptions still hold"},
		{domain.AlertAgreementBias, "what evidence supports this view"},
		{domain.AlertConfidenceDrift, "What new information influenced"},
		{domain.AlertType("unknown"), "Can you clarify this point?"},
	}
	for _, tt := range tests {
		got := SuggestedPrompt(&domain.Alert{Type: tt.alertType})
		if !strings.Contains(got, tt.want) {
			t.Errorf("SuggestedPrompt(%s) = %q, want substring %q", tt.alertType, got, tt.want)
		}
	}
}

func TestHighestSeverity(t *testing.T) {
	if HighestSeverity(nil) != nil {
		t.Error("empty batch should return nil")
	}

	alerts := []*domain.Alert{
		{ID: "a1", Severity: domain.SeverityLow},
		{ID: "a2", Severity: domain.SeverityCritical},
		{ID: "a3", Severity: domain.SeverityMedium},
	}
	if got := HighestSeverity(alerts); got.ID != "a2" {
		t.Errorf("HighestSeverity = %s, want a2", got.ID)
	}
}

func TestReconciliationTemplate_PolarityFlip(t *testing.T) {
	g := domain.NewCommitmentGraph("conv-template")
	g.Commitments = []*domain.Commitment{
		{ID: "c1", TurnID: 3, Normalized: "the migration is safe to run"},
		{ID: "c2", TurnID: 8, Normalized: "the migration is not safe to run"},
	}
	alert := &domain.Alert{
		Type:               domain.AlertPolarityFlip,
		RelatedCommitments: []string{"c1", "c2"},
	}

	text := ReconciliationTemplate(g, alert)
	if !strings.Contains(text, "turn 3") || !strings.Contains(text, "turn 8") {
		t.Errorf("template should cite both turns, got %q", text)
	}
	if !strings.Contains(text, "the migration is safe to run") {
		t.Errorf("template should quote the earlier claim, got %q", text)
	}
}

func TestReconciliationTemplate_NoCommitments(t *testing.T) {
	g := domain.NewCommitmentGraph("conv-template")
	alert := &domain.Alert{Type: domain.AlertPolarityFlip, RelatedCommitments: []string{"missing"}}

	text := ReconciliationTemplate(g, alert)
	if !strings.Contains(text, "reconcile") {
		t.Errorf("unexpected fallback %q", text)
	}
}
