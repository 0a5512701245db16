package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/continuumhq/continuum/internal/domain"
	"github.com/continuumhq/continuum/internal/metrics"
)

const (
	defaultBaseURL = "https://api.k2think.ai/v1"
	chatModel      = "MBZUAI-IFM/K2-Think-v2"
	// K2 reasoning models can take 50+ seconds to respond.
	requestTimeout = 60 * time.Second
)

// K2Client talks to the K2 Think chat-completions API. It is the
// authoritative reasoning engine behind the heuristics.
type K2Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ domain.OracleClient = (*K2Client)(nil)

func NewK2Client(apiKey, baseURL string) *K2Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &K2Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *K2Client) complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("oracle API key not configured")
	}

	metrics.OracleCalls.Inc()

	body, err := json.Marshal(chatRequest{
		Model:    chatModel,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.OracleFailures.Inc()
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.OracleFailures.Inc()
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.OracleFailures.Inc()
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		metrics.OracleFailures.Inc()
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if result.Error != nil {
		metrics.OracleFailures.Inc()
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		metrics.OracleFailures.Inc()
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// extractJSON isolates the JSON payload from a reasoning-model response.
// K2 emits its chain of thought before the answer, so the payload usually
// sits inside a markdown fence or after the closing think tag.
func extractJSON(content, anchor string) string {
	if i := strings.Index(content, "```json"); i >= 0 {
		rest := content[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.LastIndex(content, "</think>"); i >= 0 {
		return strings.TrimSpace(content[i+len("</think>"):])
	}
	if anchor != "" {
		if i := strings.LastIndex(content, anchor); i >= 0 {
			return strings.TrimSpace(content[i:])
		}
	}
	return strings.TrimSpace(content)
}

func (c *K2Client) ExtractClaims(ctx context.Context, turnText string) ([]domain.ExtractedClaim, error) {
	content, err := c.complete(ctx, fmt.Sprintf(extractPrompt, turnText))
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	payload := extractJSON(content, `{"claims"`)
	var parsed struct {
		Claims []domain.ExtractedClaim `json:"claims"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		metrics.OracleFailures.Inc()
		return nil, fmt.Errorf("parse extraction result: %w (raw: %s)", err, truncateRaw(payload))
	}
	return parsed.Claims, nil
}

func (c *K2Client) VerifyContradiction(ctx context.Context, priorClaim, newClaim string) (*domain.VerificationResult, error) {
	content, err := c.complete(ctx, fmt.Sprintf(verifyPrompt, priorClaim, newClaim))
	if err != nil {
		return nil, fmt.Errorf("verify contradiction: %w", err)
	}

	payload := extractJSON(content, `{"is_contradiction"`)
	var result domain.VerificationResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		metrics.OracleFailures.Inc()
		return nil, fmt.Errorf("parse verification result: %w (raw: %s)", err, truncateRaw(payload))
	}
	return &result, nil
}

func (c *K2Client) GenerateReconciliation(ctx context.Context, priorClaim, newClaim, conversationSummary string) (*domain.Reconciliation, error) {
	if conversationSummary == "" {
		conversationSummary = "No additional context"
	}
	content, err := c.complete(ctx, fmt.Sprintf(reconcilePrompt, priorClaim, newClaim, conversationSummary))
	if err != nil {
		return nil, fmt.Errorf("generate reconciliation: %w", err)
	}

	payload := extractJSON(content, `{"reconciliation"`)
	var rec domain.Reconciliation
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		metrics.OracleFailures.Inc()
		return nil, fmt.Errorf("parse reconciliation result: %w (raw: %s)", err, truncateRaw(payload))
	}
	return &rec, nil
}

func truncateRaw(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
