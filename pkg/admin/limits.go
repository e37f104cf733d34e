package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auilabs/aui/pkg/protocol"
)

// ExceededLimit describes one limit a user is over.
type ExceededLimit struct {
	Limit       string  `json:"limit"`
	Current     int64   `json:"current"`
	Maximum     int64   `json:"maximum"`
	PercentOver float64 `json:"percent_over"`
}

// UsageSnapshot is the current usage consulted by a limit check.
type UsageSnapshot struct {
	TokensToday        int64 `json:"tokens_today"`
	TokensThisMonth    int64 `json:"tokens_this_month"`
	RequestsLastMinute int   `json:"requests_last_minute"`
	ActiveTasks        int   `json:"active_tasks"`
}

// LimitStatus is the outcome of a limit check.
type LimitStatus struct {
	WithinLimits   bool            `json:"within_limits"`
	ExceededLimits []ExceededLimit `json:"exceeded_limits,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Tier           string          `json:"tier"`
	CurrentUsage   UsageSnapshot   `json:"current_usage"`
}

// LimitExceededError carries the exceeded-limit records for client display.
type LimitExceededError struct {
	Status *LimitStatus
}

func (e *LimitExceededError) Error() string {
	if len(e.Status.ExceededLimits) == 0 {
		return "limit exceeded"
	}
	first := e.Status.ExceededLimits[0]
	return fmt.Sprintf("limit %s exceeded: %d of %d (%.1f%% over)",
		first.Limit, first.Current, first.Maximum, first.PercentOver)
}

func (e *LimitExceededError) Unwrap() error { return protocol.ErrLimitExceeded }

// IsLimitExceeded reports whether err is a limit-exceeded error.
func IsLimitExceeded(err error) bool {
	return errors.Is(err, protocol.ErrLimitExceeded)
}

// CheckLimits evaluates the user's tier limits against current usage.
// Requests-per-minute is measured over a rolling 60 second window of cost
// entries.
func (p *Plane) CheckLimits(ctx context.Context, userID string) (*LimitStatus, error) {
	tier := p.TierFor(userID)
	now := p.now()

	status := &LimitStatus{WithinLimits: true, Tier: tier.ID}

	dayUsage, err := p.usageOrZero(ctx, userID, DayKey(now))
	if err != nil {
		return nil, err
	}
	monthUsage, err := p.usageOrZero(ctx, userID, MonthKey(now))
	if err != nil {
		return nil, err
	}

	recentRequests, err := p.requestsInWindow(ctx, userID, now, time.Minute)
	if err != nil {
		return nil, err
	}

	status.CurrentUsage = UsageSnapshot{
		TokensToday:        dayUsage,
		TokensThisMonth:    monthUsage,
		RequestsLastMinute: recentRequests,
		ActiveTasks:        p.activeTasksFor(userID),
	}

	p.evaluate(status, "tokensPerDay", dayUsage, tier.Limits.TokensPerDay)
	p.evaluate(status, "tokensPerMonth", monthUsage, tier.Limits.TokensPerMonth)
	p.evaluate(status, "requestsPerMinute", int64(recentRequests), int64(tier.Limits.RequestsPerMinute))
	p.evaluate(status, "maxConcurrentTasks", int64(status.CurrentUsage.ActiveTasks), int64(tier.Limits.MaxConcurrentTasks))

	status.WithinLimits = len(status.ExceededLimits) == 0
	return status, nil
}

// EnforceLimits fails with a LimitExceededError when the user is over any
// limit.
func (p *Plane) EnforceLimits(ctx context.Context, userID string) error {
	status, err := p.CheckLimits(ctx, userID)
	if err != nil {
		return err
	}
	if !status.WithinLimits {
		return &LimitExceededError{Status: status}
	}
	return nil
}

func (p *Plane) evaluate(status *LimitStatus, name string, current, maximum int64) {
	if maximum <= 0 {
		return
	}
	if current > maximum {
		over := float64(current-maximum) / float64(maximum) * 100
		status.ExceededLimits = append(status.ExceededLimits, ExceededLimit{
			Limit:       name,
			Current:     current,
			Maximum:     maximum,
			PercentOver: over,
		})
		return
	}
	pct := float64(current) / float64(maximum) * 100
	if pct >= 80 && pct < 100 {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("%s at %.0f%% (%d of %d)", name, pct, current, maximum))
	}
}

func (p *Plane) usageOrZero(ctx context.Context, userID, period string) (int64, error) {
	record, err := p.store.GetUsage(ctx, userID, period)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return 0, nil
		}
		return 0, protocol.NewComponentError("admin", "CheckLimits", "read usage", err)
	}
	return record.TokensUsed, nil
}

func (p *Plane) requestsInWindow(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	entries, err := p.store.ListCostEntries(ctx, now.Add(-window), now)
	if err != nil {
		return 0, protocol.NewComponentError("admin", "CheckLimits", "read cost entries", err)
	}
	count := 0
	for _, e := range entries {
		if e.UserID == userID {
			count++
		}
	}
	return count, nil
}
