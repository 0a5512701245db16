package service

import (
	"math"

	"github.com/continuumhq/continuum/internal/analysis"
	"github.com/continuumhq/continuum/internal/domain"
)

// dependencySimilarityThreshold gates depends_on edge creation.
const dependencySimilarityThreshold = 0.6

// DependencyMetrics summarizes the dependency structure of a graph.
type DependencyMetrics struct {
	TotalDependencies int      `json:"total_dependencies"`
	MaxDepth          int      `json:"max_dependency_depth"`
	AvgDepth          float64  `json:"avg_dependency_depth"`
	StructuralBreaks  int      `json:"structural_breaks"`
	BreakCommitments  []string `json:"structural_break_commitments,omitempty"`
}

// DependencyGraph tracks which commitments rest on which. A contradiction of
// a commitment with many transitive dependents is a structural break rather
// than an isolated flip.
type DependencyGraph struct {
	structuralBreakDepth int
}

func NewDependencyGraph(structuralBreakDepth int) *DependencyGraph {
	return &DependencyGraph{structuralBreakDepth: structuralBreakDepth}
}

// Update links the new commitment to the prior active commitments it builds
// on, where lexical similarity exceeds the threshold. Each link also updates
// the prior's dependent list so Depth stays cheap.
func (d *DependencyGraph) Update(g *domain.CommitmentGraph, next *domain.Commitment) []domain.Edge {
	var edges []domain.Edge
	for _, prior := range g.Commitments {
		if prior.TurnID >= next.TurnID || !prior.Active {
			continue
		}
		similarity := analysis.TokenSimilarity(prior.Normalized, next.Normalized)
		if similarity <= dependencySimilarityThreshold {
			continue
		}

		edges = append(edges, domain.Edge{
			Source:         next.ID,
			Target:         prior.ID,
			Relation:       domain.RelationDependsOn,
			Weight:         similarity,
			DetectedAtTurn: next.TurnID,
		})
		if !contains(prior.DependedOnBy, next.ID) {
			prior.DependedOnBy = append(prior.DependedOnBy, next.ID)
		}
	}
	return edges
}

// Depth counts the commitments that depend on the given one, directly or
// transitively, via BFS over the dependent lists.
func (d *DependencyGraph) Depth(g *domain.CommitmentGraph, commitmentID string) int {
	if g.GetCommitment(commitmentID) == nil {
		return 0
	}

	visited := map[string]bool{commitmentID: true}
	queue := []string{commitmentID}
	for len(queue) > 0 {
		current := g.GetCommitment(queue[0])
		queue = queue[1:]
		if current == nil {
			continue
		}
		for _, dep := range current.DependedOnBy {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return len(visited) - 1
}

// StructuralBreaks returns the ids of contradicted commitments whose
// dependent count meets the structural threshold.
func (d *DependencyGraph) StructuralBreaks(g *domain.CommitmentGraph) []string {
	var breaks []string
	for _, c := range g.Commitments {
		if len(c.ContradictedBy) == 0 {
			continue
		}
		if d.Depth(g, c.ID) >= d.structuralBreakDepth {
			breaks = append(breaks, c.ID)
		}
	}
	return breaks
}

func (d *DependencyGraph) Metrics(g *domain.CommitmentGraph) DependencyMetrics {
	if len(g.Commitments) == 0 {
		return DependencyMetrics{}
	}

	dependencies := 0
	for _, e := range g.Edges {
		if e.Relation == domain.RelationDependsOn {
			dependencies++
		}
	}

	maxDepth := 0
	var total float64
	for _, c := range g.Commitments {
		depth := d.Depth(g, c.ID)
		if depth > maxDepth {
			maxDepth = depth
		}
		total += float64(depth)
	}

	breaks := d.StructuralBreaks(g)
	return DependencyMetrics{
		TotalDependencies: dependencies,
		MaxDepth:          maxDepth,
		AvgDepth:          math.Round(total/float64(len(g.Commitments))*100) / 100,
		StructuralBreaks:  len(breaks),
		BreakCommitments:  breaks,
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
