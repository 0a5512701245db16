package domain

import "context"

// GraphStore is a shared keyed store of conversation graphs.
//
// Concurrency contract: single active writer per conversation id. The
// synchronous request path processes one turn to completion before the next;
// the deferred verifier is the only out-of-band writer and must gate its
// mutations on an optimistic version comparison.
type GraphStore interface {
	Get(ctx context.Context, conversationID string) (*CommitmentGraph, error)
	Put(ctx context.Context, graph *CommitmentGraph) error
	Delete(ctx context.Context, conversationID string) error
}

// ExtractedClaim is one structured claim returned by the oracle.
type ExtractedClaim struct {
	Claim       string   `json:"claim"`
	Polarity    Polarity `json:"polarity"`
	Confidence  float64  `json:"confidence"`
	Assumptions []string `json:"assumptions,omitempty"`
}

// VerificationResult is the oracle's judgment on a suspected contradiction.
type VerificationResult struct {
	IsContradiction bool    `json:"is_contradiction"`
	Type            string  `json:"type"`
	Confidence      float64 `json:"confidence"`
	Explanation     string  `json:"explanation"`
}

// Reconciliation is oracle-generated text bridging two conflicting claims.
type Reconciliation struct {
	Text       string  `json:"reconciliation"`
	Confidence float64 `json:"confidence"`
}

// OracleClient is the external reasoning service used for authoritative
// extraction and verification. Every method returns a non-nil error for
// timeout, transport failure, and malformed payloads alike; callers treat
// any error as "unavailable" and fall back to heuristics.
type OracleClient interface {
	ExtractClaims(ctx context.Context, turnText string) ([]ExtractedClaim, error)
	VerifyContradiction(ctx context.Context, priorClaim, newClaim string) (*VerificationResult, error)
	GenerateReconciliation(ctx context.Context, priorClaim, newClaim, conversationSummary string) (*Reconciliation, error)
}
