// Package llms provides the narrow LLM adapter the orchestration core
// consumes: one completion call in, text plus token accounting out.
package llms

import (
	"context"
	"fmt"

	"github.com/auilabs/aui/pkg/protocol"
)

// Request is a single completion call.
type Request struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// Response carries the completion text and its accounting fields.
// CostCents is zero unless the provider reports cost itself; callers derive
// cost from the rate catalog otherwise.
type Response struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	LatencyMs    int64  `json:"latency_ms"`
	CostCents    int64  `json:"cost_cents,omitempty"`
}

// Provider is the LLM adapter interface.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	DefaultModel() string
}

func providerErr(provider, action, message string, cause error) error {
	return protocol.NewComponentError("llms", action,
		fmt.Sprintf("%s: %s", provider, message), cause)
}
