// Package admin is the service's administrative plane: config KV with an
// audit trail, prompt templates, the model-rate and tier catalogs, LLM cost
// recording, per-user usage aggregation, and limit checks.
package admin

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

// AuditRecord is one configuration mutation.
type AuditRecord struct {
	Category  string         `json:"category"`
	Key       string         `json:"key"`
	Value     protocol.Value `json:"value"`
	Reason    string         `json:"reason,omitempty"`
	ChangedAt time.Time      `json:"changed_at"`
	ChangedBy string         `json:"changed_by,omitempty"`
}

// PromptTemplate is a named prompt with {{name}} substitution slots.
type PromptTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Text        string    `json:"text"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Plane holds the admin tables. Config, prompts and tiers live in memory;
// cost entries and usage aggregates go through the store.
type Plane struct {
	store           store.Store
	logger          *slog.Logger
	trackingEnabled bool
	retention       time.Duration
	defaultTierID   string
	rates           RateCatalog

	mu          sync.RWMutex
	config      map[string]map[string]protocol.Value
	audit       []AuditRecord
	prompts     map[string]*PromptTemplate
	tiers       map[string]*Tier
	userTiers   map[string]string
	activeTasks map[string]int

	now func() time.Time
}

// Options configure a Plane.
type Options struct {
	TrackingEnabled bool
	RetentionDays   int
	DefaultTierID   string
	Rates           *RateCatalog
	Logger          *slog.Logger
}

func NewPlane(st store.Store, opts Options) *Plane {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultTierID == "" {
		opts.DefaultTierID = "free"
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 90
	}
	rates := DefaultRateCatalog()
	if opts.Rates != nil {
		rates = *opts.Rates
	}

	return &Plane{
		store:           st,
		logger:          opts.Logger,
		trackingEnabled: opts.TrackingEnabled,
		retention:       time.Duration(opts.RetentionDays) * 24 * time.Hour,
		defaultTierID:   opts.DefaultTierID,
		rates:           rates,
		config:          make(map[string]map[string]protocol.Value),
		prompts:         make(map[string]*PromptTemplate),
		tiers:           DefaultTiers(),
		userTiers:       make(map[string]string),
		activeTasks:     make(map[string]int),
		now:             time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (p *Plane) SetClock(now func() time.Time) { p.now = now }

// GetConfig returns a config value.
func (p *Plane) GetConfig(category, key string) (protocol.Value, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.config[category][key]; ok {
		return v, nil
	}
	return protocol.Null(), protocol.NewComponentError("admin", "GetConfig",
		fmt.Sprintf("%s/%s", category, key), protocol.ErrNotFound)
}

// GetConfigOrDefault returns a config value, or fallback when unset.
func (p *Plane) GetConfigOrDefault(category, key string, fallback protocol.Value) protocol.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.config[category][key]; ok {
		return v
	}
	return fallback
}

// SetConfig stores a config value and appends an audit record.
func (p *Plane) SetConfig(category, key string, value protocol.Value, reason, changedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config[category] == nil {
		p.config[category] = make(map[string]protocol.Value)
	}
	p.config[category][key] = value
	p.audit = append(p.audit, AuditRecord{
		Category:  category,
		Key:       key,
		Value:     value,
		Reason:    reason,
		ChangedAt: p.now(),
		ChangedBy: changedBy,
	})
}

// AuditLog returns a copy of the audit trail, oldest first.
func (p *Plane) AuditLog() []AuditRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]AuditRecord(nil), p.audit...)
}

// CreatePrompt registers a prompt template.
func (p *Plane) CreatePrompt(name, text, description string) *PromptTemplate {
	now := p.now()
	tpl := &PromptTemplate{
		ID:          uuid.NewString(),
		Name:        name,
		Text:        text,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.mu.Lock()
	p.prompts[tpl.ID] = tpl
	p.mu.Unlock()
	return tpl
}

// GetPrompt returns a prompt template by id.
func (p *Plane) GetPrompt(id string) (*PromptTemplate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tpl, ok := p.prompts[id]
	if !ok {
		return nil, protocol.NewComponentError("admin", "GetPrompt",
			fmt.Sprintf("prompt %q", id), protocol.ErrNotFound)
	}
	return tpl, nil
}

// ListPrompts returns all templates sorted by name.
func (p *Plane) ListPrompts() []*PromptTemplate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*PromptTemplate, 0, len(p.prompts))
	for _, tpl := range p.prompts {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdatePrompt replaces a template's text and description.
func (p *Plane) UpdatePrompt(id, text, description string) (*PromptTemplate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tpl, ok := p.prompts[id]
	if !ok {
		return nil, protocol.NewComponentError("admin", "UpdatePrompt",
			fmt.Sprintf("prompt %q", id), protocol.ErrNotFound)
	}
	tpl.Text = text
	tpl.Description = description
	tpl.UpdatedAt = p.now()
	return tpl, nil
}

// DeletePrompt removes a template.
func (p *Plane) DeletePrompt(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.prompts[id]; !ok {
		return protocol.NewComponentError("admin", "DeletePrompt",
			fmt.Sprintf("prompt %q", id), protocol.ErrNotFound)
	}
	delete(p.prompts, id)
	return nil
}

var promptVarRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// CompilePrompt substitutes {{name}} tokens; unknown tokens are left
// untouched.
func (p *Plane) CompilePrompt(id string, vars map[string]string) (string, error) {
	tpl, err := p.GetPrompt(id)
	if err != nil {
		return "", err
	}
	return promptVarRe.ReplaceAllStringFunc(tpl.Text, func(token string) string {
		name := promptVarRe.FindStringSubmatch(token)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return token
	}), nil
}

// TestPrompt compiles a template against sample variables.
func (p *Plane) TestPrompt(id string, vars map[string]string) (string, error) {
	return p.CompilePrompt(id, vars)
}
