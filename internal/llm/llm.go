// Package llm is the boundary to the reasoning backend. It defines the
// provider contract, the fix request/response shapes, guardrail validation
// and the retry policy; providers are interchangeable via config.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ngmend/ngmend/internal/model"
)

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is a single-shot completion backend. Implementations return
// *APIError for transport-level failures so the retry wrapper can decide
// what is retryable.
type Client interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string        `json:"provider"             mapstructure:"provider"`
	Model     string        `json:"model,omitempty"      mapstructure:"model"`
	APIKey    string        `json:"api_key,omitempty"    mapstructure:"api_key"`
	APIKeyEnv string        `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	BaseURL   string        `json:"base_url,omitempty"   mapstructure:"base_url"`
	Cmd       []string      `json:"cmd,omitempty"        mapstructure:"cmd"`
	Timeout   time.Duration `json:"timeout,omitempty"    mapstructure:"timeout"`
}

// NewClient constructs the configured provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "gemini":
		return newGeminiClient(cfg)
	case "exec":
		return newExecClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// FixRequest asks the backend for a fix to one build error.
type FixRequest struct {
	Error         model.BuildError `json:"error"`
	FileContent   string           `json:"file_content,omitempty"`
	TargetVersion string           `json:"target_version"`
	Constraints   []string         `json:"constraints,omitempty"`
}

// DefaultConstraints are always appended to fix requests.
var DefaultConstraints = []string{
	"do not invent package versions",
	"produce the minimal diff that fixes the error",
	"never modify package.json or package-lock.json",
}

// FixResponse is the backend's parsed answer.
type FixResponse struct {
	Success    bool               `json:"success"`
	Changes    []model.FileChange `json:"changes,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
}

// RequestFix validates the request, calls the backend under the retry
// policy, and validates the parsed response. All failures come back as
// errors; the caller converts them into manual-intervention fix results.
func RequestFix(ctx context.Context, client Client, req FixRequest) (FixResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return FixResponse{}, fmt.Errorf("request rejected: %w", err)
	}

	prompt := buildFixPrompt(req)
	var raw string
	err := Retry(ctx, DefaultRetryPolicy(), func(ctx context.Context) error {
		var callErr error
		raw, callErr = client.Complete(ctx, fixSystemPrompt, []Message{{Role: RoleUser, Content: prompt}})
		return callErr
	})
	if err != nil {
		return FixResponse{}, fmt.Errorf("reasoning backend: %w", err)
	}

	resp, err := parseFixResponse(raw)
	if err != nil {
		return FixResponse{}, err
	}
	if err := ValidateResponse(resp); err != nil {
		return FixResponse{}, fmt.Errorf("response rejected: %w", err)
	}
	return resp, nil
}

const fixSystemPrompt = `You repair Angular upgrade build errors. Reply with a single JSON object:
{"success": bool, "reasoning": string, "confidence": number, "changes": [{"path": string, "kind": "modify"|"create"|"delete", "replacements": [{"search": string, "replace": string}], "content": string}]}
Prefer search/replace pairs over full file content. Quote the search text exactly as it appears in the file.`

func buildFixPrompt(req FixRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build error (%s) while upgrading to Angular %s:\n%s\n", req.Error.Category, req.TargetVersion, req.Error.Message)
	if req.Error.File != "" {
		fmt.Fprintf(&b, "Location: %s:%d:%d\n", req.Error.File, req.Error.Line, req.Error.Column)
	}
	if req.FileContent != "" {
		fmt.Fprintf(&b, "\nRelevant file content:\n```\n%s\n```\n", req.FileContent)
	}
	constraints := append(append([]string{}, DefaultConstraints...), req.Constraints...)
	b.WriteString("\nConstraints:\n")
	for _, c := range constraints {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

func parseFixResponse(raw string) (FixResponse, error) {
	payload, ok := extractJSONObject(raw)
	if !ok {
		return FixResponse{}, fmt.Errorf("backend reply contains no JSON object")
	}
	if err := ValidateResponseShape(payload); err != nil {
		return FixResponse{}, err
	}
	var resp FixResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return FixResponse{}, fmt.Errorf("decode fix response: %w", err)
	}
	return resp, nil
}

// extractJSONObject recovers the outermost JSON object from a reply that may
// be wrapped in prose or code fences.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || start >= end {
		return "", false
	}
	return s[start : end+1], true
}

// EstimateTokens approximates token usage for budget accounting. An upper
// bound is all the budget check needs.
func EstimateTokens(s string) int {
	return len(s)/4 + 1
}
