package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		anchor  string
		want    string
	}{
		{
			name:    "json fence",
			content: "Here is my answer:\n```json\n{\"is_contradiction\": true}\n```\nDone.",
			anchor:  `{"is_contradiction"`,
			want:    `{"is_contradiction": true}`,
		},
		{
			name:    "plain fence",
			content: "```\n{\"claims\": []}\n```",
			anchor:  `{"claims"`,
			want:    `{"claims": []}`,
		},
		{
			name:    "after think tag",
			content: "<think>long reasoning here</think>\n{\"reconciliation\": \"ok\"}",
			anchor:  `{"reconciliation"`,
			want:    `{"reconciliation": "ok"}`,
		},
		{
			name:    "anchor fallback",
			content: `reasoning text then {"claims": [{"claim": "x"}]}`,
			anchor:  `{"claims"`,
			want:    `{"claims": [{"claim": "x"}]}`,
		},
		{
			name:    "bare json",
			content: `  {"confidence": 0.9}  `,
			anchor:  "",
			want:    `{"confidence": 0.9}`,
		},
		{
			name:    "unterminated json fence",
			content: "```json\n{\"claims\": []}",
			anchor:  `{"claims"`,
			want:    `{"claims": []}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.content, tt.anchor); got != tt.want {
				t.Errorf("extractJSON = %q, want %q", got, tt.want)
			}
		})
	}
}

func k2TestServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != chatModel {
			t.Errorf("model = %q", req.Model)
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestK2_VerifyContradiction(t *testing.T) {
	srv := k2TestServer(t, "<think>comparing claims</think>\n"+
		`{"is_contradiction": true, "type": "direct_contradiction", "confidence": 0.92, "explanation": "polarity reversed"}`)
	defer srv.Close()

	c := NewK2Client("test-key", srv.URL)
	result, err := c.VerifyContradiction(context.Background(), "x is good", "x is bad")
	if err != nil {
		t.Fatalf("VerifyContradiction: %v", err)
	}
	if !result.IsContradiction {
		t.Error("expected contradiction")
	}
	if result.Type != "direct_contradiction" || result.Confidence != 0.92 {
		t.Errorf("result = %+v", result)
	}
}

func TestK2_ExtractClaims(t *testing.T) {
	srv := k2TestServer(t, "```json\n"+
		`{"claims": [{"claim": "typescript is good", "polarity": "positive", "confidence": 0.8}]}`+"\n```")
	defer srv.Close()

	c := NewK2Client("test-key", srv.URL)
	claims, err := c.ExtractClaims(context.Background(), "I think typescript is good")
	if err != nil {
		t.Fatalf("ExtractClaims: %v", err)
	}
	if len(claims) != 1 || claims[0].Claim != "typescript is good" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestK2_GenerateReconciliation(t *testing.T) {
	srv := k2TestServer(t, `{"reconciliation": "the scope changed between turns", "confidence": 0.7}`)
	defer srv.Close()

	c := NewK2Client("test-key", srv.URL)
	rec, err := c.GenerateReconciliation(context.Background(), "a", "b", "")
	if err != nil {
		t.Fatalf("GenerateReconciliation: %v", err)
	}
	if rec.Text != "the scope changed between turns" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestK2_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewK2Client("test-key", srv.URL)
	if _, err := c.VerifyContradiction(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestK2_MalformedPayloadErrors(t *testing.T) {
	srv := k2TestServer(t, "no json anywhere in this response")
	defer srv.Close()

	c := NewK2Client("test-key", srv.URL)
	if _, err := c.VerifyContradiction(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestK2_MissingAPIKey(t *testing.T) {
	c := NewK2Client("", "")
	if _, err := c.VerifyContradiction(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestK2_TrimsBaseURL(t *testing.T) {
	c := NewK2Client("k", "https://example.com/v1/")
	if c.baseURL != "https://example.com/v1" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if def := NewK2Client("k", ""); !strings.HasPrefix(def.baseURL, "https://") {
		t.Errorf("default baseURL = %q", def.baseURL)
	}
}
