package admin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/auilabs/aui/pkg/protocol"
)

// Limits is a tier's quota bundle. Zero means unlimited.
type Limits struct {
	TokensPerDay       int64 `json:"tokens_per_day,omitempty"`
	TokensPerMonth     int64 `json:"tokens_per_month,omitempty"`
	RequestsPerMinute  int   `json:"requests_per_minute,omitempty"`
	MaxConcurrentTasks int   `json:"max_concurrent_tasks,omitempty"`
}

// Tier is a named bundle of limits and allowed models.
type Tier struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Limits        Limits   `json:"limits"`
	AllowedModels []string `json:"allowed_models"`
	Features      []string `json:"features,omitempty"`
	Priority      int      `json:"priority"`
	Public        bool     `json:"public"`
}

// DefaultTiers is the built-in tier catalog.
func DefaultTiers() map[string]*Tier {
	return map[string]*Tier{
		"free": {
			ID:   "free",
			Name: "Free",
			Limits: Limits{
				TokensPerDay:       10_000,
				TokensPerMonth:     100_000,
				RequestsPerMinute:  10,
				MaxConcurrentTasks: 1,
			},
			AllowedModels: []string{"local/*", "ollama/*", "llama*", "claude-haiku", "gpt-4o-mini", "claude-sonnet"},
			Features:      []string{"buffers", "search"},
			Priority:      0,
			Public:        true,
		},
		"pro": {
			ID:   "pro",
			Name: "Pro",
			Limits: Limits{
				TokensPerDay:       500_000,
				TokensPerMonth:     5_000_000,
				RequestsPerMinute:  60,
				MaxConcurrentTasks: 5,
			},
			AllowedModels: []string{"*"},
			Features:      []string{"buffers", "search", "agents", "books"},
			Priority:      1,
			Public:        true,
		},
		"enterprise": {
			ID:            "enterprise",
			Name:          "Enterprise",
			Limits:        Limits{RequestsPerMinute: 600, MaxConcurrentTasks: 50},
			AllowedModels: []string{"*"},
			Features:      []string{"buffers", "search", "agents", "books", "clusters"},
			Priority:      2,
			Public:        false,
		},
	}
}

// SetTier creates or replaces a tier.
func (p *Plane) SetTier(t *Tier) error {
	if t == nil || t.ID == "" {
		return protocol.NewComponentError("admin", "SetTier", "tier id is required", protocol.ErrInvalidArgs)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tiers[t.ID] = t
	return nil
}

// DeleteTier removes a tier. The free tier is undeletable.
func (p *Plane) DeleteTier(id string) error {
	if id == "free" {
		return protocol.NewComponentError("admin", "DeleteTier",
			"the free tier cannot be deleted", protocol.ErrInvalidArgs)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tiers[id]; !ok {
		return protocol.NewComponentError("admin", "DeleteTier",
			fmt.Sprintf("tier %q", id), protocol.ErrNotFound)
	}
	delete(p.tiers, id)
	return nil
}

// ListTiers returns all tiers sorted by priority.
func (p *Plane) ListTiers() []*Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Tier, 0, len(p.tiers))
	for _, t := range p.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// SetUserTier assigns a user to a tier; unknown tiers are rejected.
func (p *Plane) SetUserTier(userID, tierID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tiers[tierID]; !ok {
		return protocol.NewComponentError("admin", "SetUserTier",
			fmt.Sprintf("tier %q", tierID), protocol.ErrNotFound)
	}
	p.userTiers[userID] = tierID
	return nil
}

// TierFor resolves a user's tier, falling back to the default tier.
func (p *Plane) TierFor(userID string) *Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.userTiers[userID]
	if !ok {
		id = p.defaultTierID
	}
	if t, ok := p.tiers[id]; ok {
		return t
	}
	return p.tiers["free"]
}

// IsModelAllowed checks a model against a tier's allow list. Patterns
// ending in "*" match by prefix; "*" alone matches everything.
func (p *Plane) IsModelAllowed(tier *Tier, model string) bool {
	for _, pattern := range tier.AllowedModels {
		if pattern == "*" {
			return true
		}
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(model, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if pattern == model {
			return true
		}
	}
	return false
}
