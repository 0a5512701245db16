package oracle

import (
	"fmt"

	"github.com/continuumhq/continuum/internal/domain"
)

// Provider constants
const (
	ProviderK2   = "k2"
	ProviderMock = "mock"
)

// NewClient creates an oracle client based on the provider name.
// Returns an error if the provider is unknown or the API key is empty
// (except for mock).
func NewClient(provider, apiKey, baseURL string) (domain.OracleClient, error) {
	switch provider {
	case ProviderK2:
		if apiKey == "" {
			return nil, fmt.Errorf("ORACLE_API_KEY is required for K2 provider")
		}
		return NewK2Client(apiKey, baseURL), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown oracle provider: %s (valid options: k2, mock)", provider)
	}
}
