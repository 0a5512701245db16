package oracle

import (
	"context"

	"github.com/continuumhq/continuum/internal/domain"
)

// MockClient is a configurable oracle client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	ExtractClaimsResponse          []domain.ExtractedClaim
	ExtractClaimsError             error
	VerifyContradictionResponse    *domain.VerificationResult
	VerifyContradictionError       error
	GenerateReconciliationResponse *domain.Reconciliation
	GenerateReconciliationError    error

	// Call tracking for assertions
	ExtractClaimsCalls          []string
	VerifyContradictionCalls    []struct{ Prior, New string }
	GenerateReconciliationCalls []struct{ Prior, New, Summary string }
}

var _ domain.OracleClient = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		ExtractClaimsResponse: []domain.ExtractedClaim{},
		VerifyContradictionResponse: &domain.VerificationResult{
			IsContradiction: true,
			Type:            "direct_contradiction",
			Confidence:      0.85,
			Explanation:     "Mock verification",
		},
		GenerateReconciliationResponse: &domain.Reconciliation{
			Text:       "Mock reconciliation",
			Confidence: 0.8,
		},
	}
}

func (c *MockClient) ExtractClaims(ctx context.Context, turnText string) ([]domain.ExtractedClaim, error) {
	c.ExtractClaimsCalls = append(c.ExtractClaimsCalls, turnText)
	if c.ExtractClaimsError != nil {
		return nil, c.ExtractClaimsError
	}
	return c.ExtractClaimsResponse, nil
}

func (c *MockClient) VerifyContradiction(ctx context.Context, priorClaim, newClaim string) (*domain.VerificationResult, error) {
	c.VerifyContradictionCalls = append(c.VerifyContradictionCalls, struct{ Prior, New string }{priorClaim, newClaim})
	if c.VerifyContradictionError != nil {
		return nil, c.VerifyContradictionError
	}
	return c.VerifyContradictionResponse, nil
}

func (c *MockClient) GenerateReconciliation(ctx context.Context, priorClaim, newClaim, conversationSummary string) (*domain.Reconciliation, error) {
	c.GenerateReconciliationCalls = append(c.GenerateReconciliationCalls, struct{ Prior, New, Summary string }{priorClaim, newClaim, conversationSummary})
	if c.GenerateReconciliationError != nil {
		return nil, c.GenerateReconciliationError
	}
	return c.GenerateReconciliationResponse, nil
}

// Reset clears all recorded calls and resets responses to defaults.
func (c *MockClient) Reset() {
	c.ExtractClaimsResponse = []domain.ExtractedClaim{}
	c.ExtractClaimsError = nil
	c.VerifyContradictionResponse = &domain.VerificationResult{
		IsContradiction: true,
		Type:            "direct_contradiction",
		Confidence:      0.85,
		Explanation:     "Mock verification",
	}
	c.VerifyContradictionError = nil
	c.GenerateReconciliationResponse = &domain.Reconciliation{
		Text:       "Mock reconciliation",
		Confidence: 0.8,
	}
	c.GenerateReconciliationError = nil
	c.ExtractClaimsCalls = nil
	c.VerifyContradictionCalls = nil
	c.GenerateReconciliationCalls = nil
}
