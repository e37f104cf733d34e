package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

// LlmCall describes one LLM invocation for cost recording. CostCents nil
// means "derive from the rate catalog".
type LlmCall struct {
	UserID       string
	SessionID    string
	Model        string
	Operation    string
	InputTokens  int
	OutputTokens int
	CostCents    *int64
	LatencyMs    int64
	Success      bool
	Error        string
}

// DayKey returns the day period key for a time.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// MonthKey returns the month period key for a time.
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// WeekKey returns the ISO-week period key for a time.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// RecordLlmCost persists one cost entry and folds it into the user's day
// and month usage buckets. A no-op when cost tracking is disabled.
func (p *Plane) RecordLlmCost(ctx context.Context, call LlmCall) (*store.CostEntry, error) {
	if !p.trackingEnabled {
		return nil, nil
	}

	costCents := int64(0)
	if call.CostCents != nil {
		costCents = *call.CostCents
	} else {
		rate, known := p.rates.Lookup(call.Model)
		if !known {
			p.logger.Warn("unknown model, falling back to default rate", "model", call.Model)
		}
		costCents = rate.Cost(call.InputTokens, call.OutputTokens)
	}

	now := p.now()
	entry := &store.CostEntry{
		ID:           uuid.NewString(),
		Timestamp:    now,
		UserID:       call.UserID,
		SessionID:    call.SessionID,
		Model:        call.Model,
		Operation:    call.Operation,
		InputTokens:  int64(call.InputTokens),
		OutputTokens: int64(call.OutputTokens),
		CostCents:    costCents,
		LatencyMs:    call.LatencyMs,
		Success:      call.Success,
		Error:        call.Error,
	}
	if err := p.store.SaveCostEntry(ctx, entry); err != nil {
		return nil, protocol.NewComponentError("admin", "RecordLlmCost", "save cost entry", err)
	}

	if call.UserID != "" {
		delta := store.UsageDelta{
			InputTokens:  int64(call.InputTokens),
			OutputTokens: int64(call.OutputTokens),
			Requests:     1,
			CostCents:    costCents,
			Model:        call.Model,
			Operation:    call.Operation,
		}
		for _, period := range []string{DayKey(now), MonthKey(now)} {
			if err := p.store.AddUsage(ctx, call.UserID, period, delta); err != nil {
				return nil, protocol.NewComponentError("admin", "RecordLlmCost",
					fmt.Sprintf("update usage for %s", period), err)
			}
		}
	}
	return entry, nil
}

// GetUsage returns a user's usage record for a period key.
func (p *Plane) GetUsage(ctx context.Context, userID, period string) (*store.UsageRecord, error) {
	return p.store.GetUsage(ctx, userID, period)
}

// PruneCosts deletes cost entries older than the configured retention.
// Usage aggregates are untouched.
func (p *Plane) PruneCosts(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	pruned, err := p.store.PruneCostEntries(ctx, cutoff)
	if err != nil {
		return 0, protocol.NewComponentError("admin", "PruneCosts", "prune cost entries", err)
	}
	if pruned > 0 {
		p.logger.Info("pruned cost entries", "count", pruned, "cutoff", cutoff)
	}
	return pruned, nil
}

// TaskStarted records one more running task for the user.
func (p *Plane) TaskStarted(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[userID]++
}

// TaskFinished records one fewer running task for the user.
func (p *Plane) TaskFinished(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeTasks[userID] > 0 {
		p.activeTasks[userID]--
	}
}

func (p *Plane) activeTasksFor(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeTasks[userID]
}
