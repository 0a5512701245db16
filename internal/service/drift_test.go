package service

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/domain"
)

func newTestAccumulator() *DriftAccumulator {
	return NewDriftAccumulator(config.DefaultDriftConfig(), NewDependencyGraph(3), zap.NewNop())
}

func driftGraph(turns int) *domain.CommitmentGraph {
	g := domain.NewCommitmentGraph("conv-drift")
	for i := 1; i <= turns; i++ {
		g.Turns = append(g.Turns, domain.Turn{ID: i, Speaker: domain.SpeakerUser, Text: "t"})
	}
	return g
}

func TestMagnitude(t *testing.T) {
	d := newTestAccumulator()
	g := driftGraph(4)
	prior := &domain.Commitment{ID: "c1", TurnID: 1, Confidence: 0.9}
	next := &domain.Commitment{ID: "c2", TurnID: 4, Confidence: 0.5}

	// 0.5 anchor component, 0.2 * 0.4 confidence delta,
	// 0.2 * (1 - 3/4) recency, 0.1 * 0.6 similarity.
	want := 0.5 + 0.2*0.4 + 0.2*0.25 + 0.1*0.6
	got := d.Magnitude(g, prior, next, 0.6)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Magnitude = %f, want %f", got, want)
	}
}

func TestAccumulate(t *testing.T) {
	d := newTestAccumulator()
	g := driftGraph(2)
	g.TurnsSinceDrift = 5
	prior := &domain.Commitment{ID: "c1", TurnID: 1, Confidence: 0.9}
	next := &domain.Commitment{ID: "c2", TurnID: 2, Confidence: 0.5}
	g.Commitments = []*domain.Commitment{prior, next}

	event := d.Accumulate(g, prior, next, 0.8, 0.4, 0.5)

	if event.ID != "drift_1" {
		t.Errorf("event id = %q", event.ID)
	}
	if event.CommitmentA != "c1" || event.CommitmentB != "c2" {
		t.Errorf("event pair = %s, %s", event.CommitmentA, event.CommitmentB)
	}
	if len(g.DriftEvents) != 1 {
		t.Fatalf("expected 1 recorded event, got %d", len(g.DriftEvents))
	}
	if g.DriftScore != event.Magnitude {
		t.Errorf("DriftScore = %f, want %f", g.DriftScore, event.Magnitude)
	}
	if g.TurnsSinceDrift != 0 {
		t.Error("stability counter should reset")
	}
	if g.LastDriftTurn != 2 {
		t.Errorf("LastDriftTurn = %d, want 2", g.LastDriftTurn)
	}
}

func TestVelocity(t *testing.T) {
	d := newTestAccumulator()
	g := driftGraph(3)
	g.DriftEvents = []domain.DriftEvent{
		{ID: "drift_1", Magnitude: 0.6, DetectedAtTurn: 1},
		{ID: "drift_2", Magnitude: 0.9, DetectedAtTurn: 3},
	}

	// Three turns, all inside the window of five.
	want := (0.6 + 0.9) / 3.0
	if got := d.Velocity(g); math.Abs(got-want) > 1e-9 {
		t.Errorf("Velocity = %f, want %f", got, want)
	}
}

func TestVelocity_OldEventsOutsideWindow(t *testing.T) {
	d := newTestAccumulator()
	g := driftGraph(10)
	g.DriftEvents = []domain.DriftEvent{
		{ID: "drift_1", Magnitude: 5.0, DetectedAtTurn: 2}, // outside window
		{ID: "drift_2", Magnitude: 1.0, DetectedAtTurn: 9},
	}

	want := 1.0 / 5.0
	if got := d.Velocity(g); math.Abs(got-want) > 1e-9 {
		t.Errorf("Velocity = %f, want %f", got, want)
	}
}

func TestVelocity_EmptyGraph(t *testing.T) {
	d := newTestAccumulator()
	if got := d.Velocity(domain.NewCommitmentGraph("empty")); got != 0.0 {
		t.Errorf("Velocity = %f, want 0", got)
	}
}

func TestApplyDecay(t *testing.T) {
	d := newTestAccumulator()
	g := driftGraph(5)
	g.DriftScore = 2.0

	g.TurnsSinceDrift = 2
	d.ApplyDecay(g)
	if g.DriftScore != 2.0 {
		t.Error("decay must not apply before enough stable turns")
	}

	g.TurnsSinceDrift = 3
	d.ApplyDecay(g)
	if math.Abs(g.DriftScore-1.9) > 1e-9 {
		t.Errorf("DriftScore = %f, want 1.9", g.DriftScore)
	}
}

func TestIsRecovering(t *testing.T) {
	d := newTestAccumulator()

	// Too few turns.
	if d.IsRecovering(driftGraph(3)) {
		t.Error("short conversations are never recovering")
	}

	// Quiet window, low score.
	g := driftGraph(8)
	g.DriftScore = 0.5
	g.DriftEvents = []domain.DriftEvent{{ID: "drift_1", Magnitude: 0.6, DetectedAtTurn: 2}}
	if !d.IsRecovering(g) {
		t.Error("expected recovery with quiet window and low score")
	}

	// Recent event blocks recovery.
	g.DriftEvents = append(g.DriftEvents, domain.DriftEvent{ID: "drift_2", Magnitude: 0.6, DetectedAtTurn: 7})
	if d.IsRecovering(g) {
		t.Error("recent drift event should block recovery")
	}

	// High score blocks recovery even when quiet.
	g2 := driftGraph(8)
	g2.DriftScore = 1.5
	if d.IsRecovering(g2) {
		t.Error("high cumulative score should block recovery")
	}
}

func TestSummary(t *testing.T) {
	d := newTestAccumulator()
	g := driftGraph(2)
	g.DriftScore = 1.23456
	g.TurnsSinceDrift = 1
	g.LastDriftTurn = 1
	g.DriftEvents = []domain.DriftEvent{{ID: "drift_1", Magnitude: 0.7, DetectedAtTurn: 1}}

	s := d.Summary(g)
	if s.CumulativeScore != 1.235 {
		t.Errorf("CumulativeScore = %f, want rounded 1.235", s.CumulativeScore)
	}
	if s.TotalEvents != 1 || s.TurnsSinceDrift != 1 || s.LastDriftTurn != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.IsRecovering {
		t.Error("two-turn conversation cannot be recovering")
	}
}

func TestRecencyWeight(t *testing.T) {
	g := driftGraph(10)
	prior := &domain.Commitment{TurnID: 2}
	next := &domain.Commitment{TurnID: 10}

	want := 1.0 - 8.0/10.0
	if got := recencyWeight(g, prior, next); math.Abs(got-want) > 1e-9 {
		t.Errorf("recencyWeight = %f, want %f", got, want)
	}

	// Gap larger than the conversation clamps to zero.
	short := driftGraph(1)
	if got := recencyWeight(short, &domain.Commitment{TurnID: 1}, &domain.Commitment{TurnID: 5}); got != 0.0 {
		t.Errorf("recencyWeight = %f, want 0", got)
	}
}
