package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GraphSchemaVersion is the current serialized shape of a CommitmentGraph.
// Bump it whenever a field is added that MigrateGraph must backfill.
const GraphSchemaVersion = 2

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

func ValidSpeaker(s string) bool {
	switch Speaker(s) {
	case SpeakerUser, SpeakerModel:
		return true
	}
	return false
}

// Turn is a single conversation message. Immutable once appended.
type Turn struct {
	ID        int       `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

type CommitmentKind string

const (
	KindClaim      CommitmentKind = "claim"
	KindPosition   CommitmentKind = "position"
	KindGoal       CommitmentKind = "goal"
	KindAssumption CommitmentKind = "assumption"
)

type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// StanceValue maps a polarity to a signed unit value.
func (p Polarity) StanceValue() float64 {
	switch p {
	case PolarityPositive:
		return 1.0
	case PolarityNegative:
		return -1.0
	}
	return 0.0
}

// Opposite reports whether p and q are strict opposites. Neutral is not
// opposite to anything.
func (p Polarity) Opposite(q Polarity) bool {
	return (p == PolarityPositive && q == PolarityNegative) ||
		(p == PolarityNegative && q == PolarityPositive)
}

// Commitment is a claim, position, goal, or assumption extracted from one
// turn. Commitments are never deleted, only deactivated.
type Commitment struct {
	ID             string         `json:"id"`
	TurnID         int            `json:"turn_id"`
	Kind           CommitmentKind `json:"kind"`
	Normalized     string         `json:"normalized"`
	Polarity       Polarity       `json:"polarity"`
	Confidence     float64        `json:"confidence"`
	Assumptions    []string       `json:"assumptions,omitempty"`
	Active         bool           `json:"active"`
	OverriddenBy   string         `json:"overridden_by,omitempty"`
	ContradictedBy []string       `json:"contradicted_by,omitempty"`
	StabilityScore float64        `json:"stability_score"`
	DependedOnBy   []string       `json:"depended_on_by,omitempty"`
	TopicAnchor    string         `json:"topic_anchor,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Assumption is an implicit or explicit premise underlying a commitment.
type Assumption struct {
	ID               string  `json:"id"`
	Text             string  `json:"text"`
	IntroducedByTurn int     `json:"introduced_by_turn"`
	Confidence       float64 `json:"confidence"`
}

type RelationType string

const (
	RelationSupports    RelationType = "supports"
	RelationContradicts RelationType = "contradicts"
	RelationDependsOn   RelationType = "depends_on"
	RelationRefines     RelationType = "refines"
	RelationQuestions   RelationType = "questions"
)

func ValidRelationType(r string) bool {
	switch RelationType(r) {
	case RelationSupports, RelationContradicts, RelationDependsOn,
		RelationRefines, RelationQuestions:
		return true
	}
	return false
}

// Edge is a directed relation between two commitments. Append-only.
type Edge struct {
	Source         string       `json:"source"`
	Target         string       `json:"target"`
	Relation       RelationType `json:"relation"`
	Weight         float64      `json:"weight"`
	DetectedAtTurn int          `json:"detected_at_turn"`
}

// DriftEvent records one contradiction's contribution to cumulative drift.
type DriftEvent struct {
	ID              string    `json:"id"`
	CommitmentA     string    `json:"commitment_a"`
	CommitmentB     string    `json:"commitment_b"`
	Similarity      float64   `json:"similarity"`
	ConfidenceDelta float64   `json:"confidence_delta"`
	RecencyWeight   float64   `json:"recency_weight"`
	DependencyDepth int       `json:"dependency_depth"`
	Magnitude       float64   `json:"drift_magnitude"`
	DetectedAtTurn  int       `json:"detected_at_turn"`
	Timestamp       time.Time `json:"timestamp"`
}

// StancePoint is a signed, confidence-weighted position on a topic at a
// point in time.
type StancePoint struct {
	Topic      string    `json:"topic"`
	Stance     float64   `json:"stance"`
	TurnID     int       `json:"turn_id"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// TopicCluster groups lexically related commitments. Clusters are rebuilt
// wholesale each time new commitments arrive.
type TopicCluster struct {
	TopicID         string   `json:"topic_id"`
	Label           string   `json:"topic_label"`
	CommitmentIDs   []string `json:"commitment_ids"`
	CentroidText    string   `json:"centroid_text,omitempty"`
	FirstSeenTurn   int      `json:"first_seen_turn"`
	LastUpdatedTurn int      `json:"last_updated_turn"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type AlertType string

const (
	AlertPolarityFlip    AlertType = "polarity_flip"
	AlertAssumptionDrop  AlertType = "assumption_drop"
	AlertAgreementBias   AlertType = "agreement_bias"
	AlertConfidenceDrift AlertType = "confidence_drift"
)

// VerificationStatus is the oracle-verification lifecycle of an alert.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending_verification"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
)

// Alert is a detected instance of epistemic drift or inconsistency.
type Alert struct {
	ID                 string             `json:"id"`
	Severity           Severity           `json:"severity"`
	Type               AlertType          `json:"alert_type"`
	Message            string             `json:"message"`
	RelatedCommitments []string           `json:"related_commitments"`
	RelatedTurns       []int              `json:"related_turns"`
	DetectedAtTurn     int                `json:"detected_at_turn"`
	SuggestedAction    string             `json:"suggested_action,omitempty"`
	Verification       VerificationStatus `json:"verification"`
	VerifierConfidence float64            `json:"verifier_confidence,omitempty"`
	DriftEventID       string             `json:"drift_event_id,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyHigh      Urgency = "high"
	UrgencyMedium    Urgency = "medium"
	UrgencyLow       Urgency = "low"
)

// Rank orders urgencies for comparison; higher is more urgent.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyImmediate:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// StepDown lowers urgency by one tier, used when drift recovery is detected.
func (u Urgency) StepDown() Urgency {
	switch u {
	case UrgencyImmediate:
		return UrgencyHigh
	case UrgencyHigh:
		return UrgencyMedium
	case UrgencyMedium:
		return UrgencyLow
	}
	return UrgencyLow
}

// EscalationDecision is the policy engine's verdict for a single turn. It is
// computed fresh each turn; only its side effects are persisted.
type EscalationDecision struct {
	ShouldEscalate    bool      `json:"should_escalate"`
	Reason            string    `json:"escalation_reason"`
	Urgency           Urgency   `json:"urgency"`
	Confidence        float64   `json:"confidence"`
	TriggeringFactors []string  `json:"triggering_factors"`
	Timestamp         time.Time `json:"timestamp"`
}

// EscalationRecord is the persisted trace of an escalation that fired.
type EscalationRecord struct {
	TurnID            int       `json:"turn_id"`
	Reason            string    `json:"escalation_reason"`
	Urgency           Urgency   `json:"urgency"`
	Confidence        float64   `json:"confidence"`
	TriggeringFactors []string  `json:"triggering_factors"`
	Timestamp         time.Time `json:"timestamp"`
}

type OverrideKind string

const (
	OverrideRejected   OverrideKind = "rejected"
	OverrideUpgraded   OverrideKind = "upgraded"
	OverrideDowngraded OverrideKind = "downgraded"
)

// VerificationOverride records the oracle overruling a heuristic alert.
type VerificationOverride struct {
	ID               string       `json:"id"`
	AlertID          string       `json:"alert_id"`
	Kind             OverrideKind `json:"override_type"`
	OriginalSeverity Severity     `json:"original_severity"`
	OracleSeverity   string       `json:"oracle_severity"`
	Reason           string       `json:"reason"`
	Confidence       float64      `json:"confidence"`
	Timestamp        time.Time    `json:"timestamp"`
}

// CommitmentGraph is the complete epistemic state of one conversation.
// Version strictly increases, once per processed turn; any asynchronous
// work that captured version V must discard its results if the live
// version has since moved past V.
type CommitmentGraph struct {
	ConversationID string                   `json:"conversation_id"`
	SchemaVersion  int                      `json:"schema_version"`
	Version        int                      `json:"version"`
	Turns          []Turn                   `json:"turns"`
	Commitments    []*Commitment            `json:"commitments"`
	Assumptions    []Assumption             `json:"assumptions,omitempty"`
	Edges          []Edge                   `json:"edges"`
	Alerts         []*Alert                 `json:"alerts"`
	DriftEvents    []DriftEvent             `json:"drift_events"`
	Overrides      []VerificationOverride   `json:"overrides"`
	Escalations    []EscalationRecord       `json:"escalations,omitempty"`
	StanceHistory  map[string][]StancePoint `json:"topic_stance_history"`
	TopicClusters  []TopicCluster           `json:"topic_clusters,omitempty"`

	DriftScore      float64 `json:"drift_score"`
	DriftVelocity   float64 `json:"drift_velocity"`
	TurnsSinceDrift int     `json:"turns_since_drift"`
	LastDriftTurn   int     `json:"last_drift_turn"`

	// Metadata holds bookkeeping only (created_at, analysis history).
	// Control flow never reads it.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewCommitmentGraph returns an empty graph for a conversation.
func NewCommitmentGraph(conversationID string) *CommitmentGraph {
	return &CommitmentGraph{
		ConversationID: conversationID,
		SchemaVersion:  GraphSchemaVersion,
		StanceHistory:  make(map[string][]StancePoint),
		Metadata:       map[string]any{"created_at": time.Now().UTC().Format(time.RFC3339)},
	}
}

func (g *CommitmentGraph) GetCommitment(id string) *Commitment {
	for _, c := range g.Commitments {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (g *CommitmentGraph) GetTurn(id int) *Turn {
	for i := range g.Turns {
		if g.Turns[i].ID == id {
			return &g.Turns[i]
		}
	}
	return nil
}

func (g *CommitmentGraph) GetAlert(id string) *Alert {
	for _, a := range g.Alerts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (g *CommitmentGraph) LatestTurnID() int {
	latest := 0
	for _, t := range g.Turns {
		if t.ID > latest {
			latest = t.ID
		}
	}
	return latest
}

// ActiveCommitments returns commitments not yet deactivated, in insertion
// order.
func (g *CommitmentGraph) ActiveCommitments() []*Commitment {
	var active []*Commitment
	for _, c := range g.Commitments {
		if c.Active {
			active = append(active, c)
		}
	}
	return active
}

// DeactivateCommitment marks a commitment inactive and records what
// overrode it. Commitments are never removed from the graph.
func (g *CommitmentGraph) DeactivateCommitment(id, byID string) {
	if c := g.GetCommitment(id); c != nil {
		c.Active = false
		c.OverriddenBy = byID
	}
}

func (g *CommitmentGraph) CountContradictions() int {
	n := 0
	for _, e := range g.Edges {
		if e.Relation == RelationContradicts {
			n++
		}
	}
	return n
}

// RemoveAlert drops an alert by id. Used only when the oracle rejects a
// heuristic finding; the rejection itself survives as an override.
func (g *CommitmentGraph) RemoveAlert(id string) {
	for i, a := range g.Alerts {
		if a.ID == id {
			g.Alerts = append(g.Alerts[:i], g.Alerts[i+1:]...)
			return
		}
	}
}

// NextCommitmentID returns the id for the offset-th commitment extracted
// this turn, counting from zero.
func (g *CommitmentGraph) NextCommitmentID(offset int) string {
	return fmt.Sprintf("c%d", len(g.Commitments)+offset+1)
}

// NextAlertID returns the id for the offset-th alert raised this turn,
// counting from zero. Ids continue past the highest ever issued, including
// ids held only by overrides for alerts the oracle removed, so removal
// never frees an id for reuse.
func (g *CommitmentGraph) NextAlertID(offset int) string {
	high := 0
	for _, a := range g.Alerts {
		if n := alertSeq(a.ID); n > high {
			high = n
		}
	}
	for _, o := range g.Overrides {
		if n := alertSeq(o.AlertID); n > high {
			high = n
		}
	}
	return fmt.Sprintf("a%d", high+offset+1)
}

func alertSeq(id string) int {
	var n int
	if _, err := fmt.Sscanf(id, "a%d", &n); err != nil {
		return 0
	}
	return n
}

func (g *CommitmentGraph) NextDriftEventID() string {
	return fmt.Sprintf("drift_%d", len(g.DriftEvents)+1)
}

func (g *CommitmentGraph) NextOverrideID() string {
	return fmt.Sprintf("ovr%d", len(g.Overrides)+1)
}

// Fingerprint computes a stable hash over turn, commitment, and alert ids,
// usable by callers to detect that re-analysis is unnecessary.
func (g *CommitmentGraph) Fingerprint() string {
	type fp struct {
		ConversationID string   `json:"conversation_id"`
		TurnIDs        []int    `json:"turn_ids"`
		CommitmentIDs  []string `json:"commitment_ids"`
		AlertIDs       []string `json:"alert_ids"`
	}
	f := fp{ConversationID: g.ConversationID}
	for _, t := range g.Turns {
		f.TurnIDs = append(f.TurnIDs, t.ID)
	}
	for _, c := range g.Commitments {
		f.CommitmentIDs = append(f.CommitmentIDs, c.ID)
	}
	for _, a := range g.Alerts {
		f.AlertIDs = append(f.AlertIDs, a.ID)
	}
	raw, _ := json.Marshal(f)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
