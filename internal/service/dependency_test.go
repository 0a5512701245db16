package service

import (
	"testing"

	"github.com/continuumhq/continuum/internal/domain"
)

func dependencyGraphFixture() *domain.CommitmentGraph {
	g := domain.NewCommitmentGraph("conv-deps")
	g.Turns = []domain.Turn{
		{ID: 1, Speaker: domain.SpeakerUser, Text: "a"},
		{ID: 2, Speaker: domain.SpeakerModel, Text: "b"},
		{ID: 3, Speaker: domain.SpeakerUser, Text: "c"},
	}
	g.Commitments = []*domain.Commitment{
		{ID: "c1", TurnID: 1, Normalized: "the api gateway handles all authentication", Active: true, StabilityScore: 1.0},
		{ID: "c2", TurnID: 2, Normalized: "the billing service is entirely separate", Active: true, StabilityScore: 1.0},
	}
	return g
}

func TestDependencyUpdate(t *testing.T) {
	d := NewDependencyGraph(3)
	g := dependencyGraphFixture()

	next := &domain.Commitment{
		ID: "c3", TurnID: 3,
		Normalized: "the api gateway handles all authentication and routing",
		Active:     true, StabilityScore: 1.0,
	}
	g.Commitments = append(g.Commitments, next)

	edges := d.Update(g, next)
	if len(edges) != 1 {
		t.Fatalf("expected 1 depends_on edge, got %d", len(edges))
	}
	e := edges[0]
	if e.Relation != domain.RelationDependsOn || e.Source != "c3" || e.Target != "c1" {
		t.Errorf("edge = %+v", e)
	}
	if e.Weight <= dependencySimilarityThreshold {
		t.Errorf("weight %f should exceed the threshold", e.Weight)
	}

	prior := g.GetCommitment("c1")
	if len(prior.DependedOnBy) != 1 || prior.DependedOnBy[0] != "c3" {
		t.Errorf("DependedOnBy = %v", prior.DependedOnBy)
	}

	// Re-running does not duplicate the dependent entry.
	d.Update(g, next)
	if len(prior.DependedOnBy) != 1 {
		t.Errorf("DependedOnBy duplicated: %v", prior.DependedOnBy)
	}
}

func TestDependencyUpdate_DissimilarSkipped(t *testing.T) {
	d := NewDependencyGraph(3)
	g := dependencyGraphFixture()

	next := &domain.Commitment{
		ID: "c3", TurnID: 3,
		Normalized: "we ship on thursdays",
		Active:     true, StabilityScore: 1.0,
	}
	if edges := d.Update(g, next); len(edges) != 0 {
		t.Errorf("expected no edges, got %d", len(edges))
	}
}

func TestDepth_Transitive(t *testing.T) {
	d := NewDependencyGraph(3)
	g := domain.NewCommitmentGraph("conv-depth")
	g.Commitments = []*domain.Commitment{
		{ID: "c1", DependedOnBy: []string{"c2", "c3"}},
		{ID: "c2", DependedOnBy: []string{"c4"}},
		{ID: "c3"},
		{ID: "c4"},
	}

	if got := d.Depth(g, "c1"); got != 3 {
		t.Errorf("Depth(c1) = %d, want 3", got)
	}
	if got := d.Depth(g, "c4"); got != 0 {
		t.Errorf("Depth(c4) = %d, want 0", got)
	}
	if got := d.Depth(g, "missing"); got != 0 {
		t.Errorf("Depth(missing) = %d, want 0", got)
	}
}

func TestStructuralBreaks(t *testing.T) {
	d := NewDependencyGraph(3)
	g := domain.NewCommitmentGraph("conv-breaks")
	g.Commitments = []*domain.Commitment{
		{ID: "c1", DependedOnBy: []string{"c2", "c3", "c4"}, ContradictedBy: []string{"c5"}},
		{ID: "c2"},
		{ID: "c3"},
		{ID: "c4"},
		// Deep but never contradicted.
		{ID: "c6", DependedOnBy: []string{"c2", "c3", "c4"}},
		// Contradicted but shallow.
		{ID: "c7", DependedOnBy: []string{"c2"}, ContradictedBy: []string{"c5"}},
	}

	breaks := d.StructuralBreaks(g)
	if len(breaks) != 1 || breaks[0] != "c1" {
		t.Errorf("StructuralBreaks = %v, want [c1]", breaks)
	}
}

func TestDependencyMetrics(t *testing.T) {
	d := NewDependencyGraph(3)
	g := domain.NewCommitmentGraph("conv-metrics")
	g.Commitments = []*domain.Commitment{
		{ID: "c1", DependedOnBy: []string{"c2"}},
		{ID: "c2"},
	}
	g.Edges = []domain.Edge{
		{Source: "c2", Target: "c1", Relation: domain.RelationDependsOn, Weight: 0.8},
		{Source: "c2", Target: "c1", Relation: domain.RelationContradicts, Weight: 0.6},
	}

	m := d.Metrics(g)
	if m.TotalDependencies != 1 {
		t.Errorf("TotalDependencies = %d, want 1", m.TotalDependencies)
	}
	if m.MaxDepth != 1 {
		t.Errorf("MaxDepth = %d, want 1", m.MaxDepth)
	}
	if m.AvgDepth != 0.5 {
		t.Errorf("AvgDepth = %f, want 0.5", m.AvgDepth)
	}

	if empty := d.Metrics(domain.NewCommitmentGraph("empty")); empty.TotalDependencies != 0 || empty.MaxDepth != 0 {
		t.Errorf("empty metrics = %+v", empty)
	}
}
