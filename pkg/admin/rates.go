package admin

import (
	"math"
	"strings"
)

// Rate prices a model in cents per million tokens.
type Rate struct {
	InCentsPer1M  float64 `json:"in_cents_per_1m"`
	OutCentsPer1M float64 `json:"out_cents_per_1m"`
}

// RateCatalog maps model ids to rates. Models matching a local prefix are
// free; unknown models fall back to Default.
type RateCatalog struct {
	Rates         map[string]Rate `json:"rates"`
	LocalPrefixes []string        `json:"local_prefixes"`
	Default       Rate            `json:"default"`
}

// DefaultRateCatalog ships the built-in pricing table.
func DefaultRateCatalog() RateCatalog {
	return RateCatalog{
		Rates: map[string]Rate{
			"claude-opus":    {InCentsPer1M: 1500, OutCentsPer1M: 7500},
			"claude-sonnet":  {InCentsPer1M: 300, OutCentsPer1M: 1500},
			"claude-haiku":   {InCentsPer1M: 80, OutCentsPer1M: 400},
			"gpt-4o":         {InCentsPer1M: 250, OutCentsPer1M: 1000},
			"gpt-4o-mini":    {InCentsPer1M: 15, OutCentsPer1M: 60},
			"gemini-2.0-pro": {InCentsPer1M: 125, OutCentsPer1M: 500},
		},
		LocalPrefixes: []string{"local/", "ollama/", "llama", "mistral", "qwen", "nomic-"},
		Default:       Rate{InCentsPer1M: 300, OutCentsPer1M: 1500},
	}
}

// Lookup resolves a model's rate. The second return is false when the
// model is unknown and the default rate was used.
func (c RateCatalog) Lookup(model string) (Rate, bool) {
	for _, prefix := range c.LocalPrefixes {
		if strings.HasPrefix(model, prefix) {
			return Rate{}, true
		}
	}
	if rate, ok := c.Rates[model]; ok {
		return rate, true
	}
	return c.Default, false
}

// Cost computes the integer-cent cost of one call under a rate.
func (r Rate) Cost(inputTokens, outputTokens int) int64 {
	cents := (float64(inputTokens)*r.InCentsPer1M + float64(outputTokens)*r.OutCentsPer1M) / 1_000_000
	return int64(math.Round(cents))
}
