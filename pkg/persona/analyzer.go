package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/protocol"
)

const analyzerSystemPrompt = `You analyze writing samples and describe the author's voice.
Respond with a single JSON object:
{"voice_traits": ["..."], "tone_markers": ["..."], "formality_low": 0.0, "formality_high": 1.0, "summary": "..."}
formality_low and formality_high bound the observed register on a 0..1 scale.
Respond with JSON only.`

// LLMAnalyzer extracts voice traits through the LLM adapter.
type LLMAnalyzer struct {
	provider llms.Provider

	// OnUsage observes each analysis call's token usage.
	OnUsage func(model string, inputTokens, outputTokens int, latencyMs int64)
}

func NewLLMAnalyzer(provider llms.Provider) *LLMAnalyzer {
	return &LLMAnalyzer{provider: provider}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, samples []string) (*Analysis, error) {
	var sb strings.Builder
	for i, s := range samples {
		fmt.Fprintf(&sb, "Sample %d:\n%s\n\n", i+1, truncate(s, 800))
	}

	resp, err := a.provider.Complete(ctx, llms.Request{
		SystemPrompt: analyzerSystemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  0.1,
		MaxTokens:    600,
	})
	if err != nil {
		return nil, harvestErr("Analyze", "llm call failed", err)
	}
	if a.OnUsage != nil {
		a.OnUsage(a.provider.DefaultModel(), resp.InputTokens, resp.OutputTokens, resp.LatencyMs)
	}

	return parseAnalysis(resp.Text)
}

func parseAnalysis(text string) (*Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, harvestErr("Analyze", "response contains no JSON object", protocol.ErrAdapterFailure)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return nil, harvestErr("Analyze", "malformed analysis JSON", protocol.ErrAdapterFailure)
	}
	return &analysis, nil
}
