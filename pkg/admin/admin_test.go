package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

func newPlane(t *testing.T) *Plane {
	t.Helper()
	mem, err := store.NewMemory()
	require.NoError(t, err)
	return NewPlane(mem, Options{TrackingEnabled: true})
}

func TestConfigKVWithAudit(t *testing.T) {
	p := newPlane(t)

	_, err := p.GetConfig("agent", "max_steps")
	assert.True(t, errors.Is(err, protocol.ErrNotFound))

	v := p.GetConfigOrDefault("agent", "max_steps", protocol.Int(10))
	assert.Equal(t, int64(10), v.Int())

	p.SetConfig("agent", "max_steps", protocol.Int(20), "load testing", "ops")
	got, err := p.GetConfig("agent", "max_steps")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Int())

	audit := p.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, "agent", audit[0].Category)
	assert.Equal(t, "load testing", audit[0].Reason)
	assert.Equal(t, "ops", audit[0].ChangedBy)
}

func TestPromptCompile(t *testing.T) {
	p := newPlane(t)

	tpl := p.CreatePrompt("greeting", "Hello {{name}}, welcome to {{place}}!", "")
	compiled, err := p.CompilePrompt(tpl.ID, map[string]string{"name": "Ada", "place": "the archive"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, welcome to the archive!", compiled)

	// Unknown tokens stay in place.
	partial, err := p.TestPrompt(tpl.ID, map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Contains(t, partial, "{{place}}")

	_, err = p.CompilePrompt("missing", nil)
	assert.True(t, errors.Is(err, protocol.ErrNotFound))

	require.NoError(t, p.DeletePrompt(tpl.ID))
	assert.Empty(t, p.ListPrompts())
}

func TestRateCatalog(t *testing.T) {
	catalog := DefaultRateCatalog()

	rate, known := catalog.Lookup("claude-sonnet")
	assert.True(t, known)
	// 600 in + 500 out at 300/1500 cents per 1M.
	assert.Equal(t, int64(1), rate.Cost(600, 500))
	assert.Equal(t, int64(300+1500), rate.Cost(1_000_000, 1_000_000))

	local, known := catalog.Lookup("llama3.2")
	assert.True(t, known)
	assert.Equal(t, int64(0), local.Cost(1_000_000, 1_000_000))

	_, known = catalog.Lookup("mystery-model-9000")
	assert.False(t, known)
}

func TestRecordLlmCostUpdatesUsage(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	entry, err := p.RecordLlmCost(ctx, LlmCall{
		UserID: "u1", Model: "claude-sonnet", Operation: "agent",
		InputTokens: 600, OutputTokens: 500, Success: true,
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(600), entry.InputTokens)
	assert.Equal(t, int64(500), entry.OutputTokens)
	assert.Equal(t, int64(1), entry.CostCents)

	day, err := p.GetUsage(ctx, "u1", DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1100), day.TokensUsed)
	assert.Equal(t, int64(1100), day.ByModel["claude-sonnet"])

	month, err := p.GetUsage(ctx, "u1", MonthKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1100), month.TokensUsed)
}

func TestRecordLlmCostDisabled(t *testing.T) {
	mem, err := store.NewMemory()
	require.NoError(t, err)
	p := NewPlane(mem, Options{TrackingEnabled: false})

	entry, err := p.RecordLlmCost(context.Background(), LlmCall{
		UserID: "u1", Model: "claude-sonnet", InputTokens: 100, OutputTokens: 100,
	})
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = p.GetUsage(context.Background(), "u1", DayKey(time.Now()))
	assert.True(t, errors.Is(err, protocol.ErrNotFound))
}

func TestCheckLimitsTokensPerDay(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	// 10 calls of 600+500 tokens put the free tier 1,000 tokens over its
	// 10,000 token day limit.
	for i := 0; i < 10; i++ {
		_, err := p.RecordLlmCost(ctx, LlmCall{
			UserID: "u1", Model: "claude-sonnet", Operation: "agent",
			InputTokens: 600, OutputTokens: 500, Success: true,
		})
		require.NoError(t, err)
	}

	status, err := p.CheckLimits(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.WithinLimits)
	assert.Equal(t, "free", status.Tier)

	var dayLimit *ExceededLimit
	for i := range status.ExceededLimits {
		if status.ExceededLimits[i].Limit == "tokensPerDay" {
			dayLimit = &status.ExceededLimits[i]
		}
	}
	require.NotNil(t, dayLimit)
	assert.Equal(t, int64(11_000), dayLimit.Current)
	assert.Equal(t, int64(10_000), dayLimit.Maximum)
	assert.InDelta(t, 10.0, dayLimit.PercentOver, 0.01)

	err = p.EnforceLimits(ctx, "u1")
	assert.True(t, IsLimitExceeded(err))
	var exceeded *LimitExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.NotEmpty(t, exceeded.Status.ExceededLimits)
}

func TestCheckLimitsWarningBand(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	// 8,500 of 10,000 tokens lands in the warning band.
	_, err := p.RecordLlmCost(ctx, LlmCall{
		UserID: "u1", Model: "claude-sonnet", Operation: "agent",
		InputTokens: 5000, OutputTokens: 3500, Success: true,
	})
	require.NoError(t, err)

	status, err := p.CheckLimits(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.WithinLimits)
	require.NotEmpty(t, status.Warnings)
	assert.Contains(t, status.Warnings[0], "tokensPerDay")
}

func TestCheckLimitsRequestsPerMinute(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	// Free tier allows 10 requests per minute; record 11 local-model calls
	// so token limits stay clear.
	for i := 0; i < 11; i++ {
		_, err := p.RecordLlmCost(ctx, LlmCall{
			UserID: "u1", Model: "llama3.2", Operation: "agent",
			InputTokens: 10, OutputTokens: 10, Success: true,
		})
		require.NoError(t, err)
	}

	status, err := p.CheckLimits(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.WithinLimits)
	require.Len(t, status.ExceededLimits, 1)
	assert.Equal(t, "requestsPerMinute", status.ExceededLimits[0].Limit)
	assert.Equal(t, int64(11), status.ExceededLimits[0].Current)
}

func TestConcurrentTaskLimit(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	p.TaskStarted("u1")
	p.TaskStarted("u1")

	status, err := p.CheckLimits(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.WithinLimits)
	assert.Equal(t, "maxConcurrentTasks", status.ExceededLimits[0].Limit)

	p.TaskFinished("u1")
	status, err = p.CheckLimits(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.WithinLimits)
}

func TestTierCatalog(t *testing.T) {
	p := newPlane(t)

	assert.Error(t, p.DeleteTier("free"))
	assert.True(t, errors.Is(p.SetUserTier("u1", "platinum"), protocol.ErrNotFound))

	require.NoError(t, p.SetUserTier("u1", "pro"))
	assert.Equal(t, "pro", p.TierFor("u1").ID)
	assert.Equal(t, "free", p.TierFor("unknown-user").ID)

	free := p.TierFor("unknown-user")
	assert.True(t, p.IsModelAllowed(free, "claude-sonnet"))
	assert.True(t, p.IsModelAllowed(free, "llama3.2"))
	assert.False(t, p.IsModelAllowed(free, "claude-opus"))

	pro := p.TierFor("u1")
	assert.True(t, p.IsModelAllowed(pro, "claude-opus"))

	tiers := p.ListTiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, "free", tiers[0].ID)
}

func TestCostReportGrouping(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	for _, model := range []string{"claude-sonnet", "claude-sonnet", "gpt-4o"} {
		_, err := p.RecordLlmCost(ctx, LlmCall{
			UserID: "u1", Model: model, Operation: "agent",
			InputTokens: 1000, OutputTokens: 500, Success: true,
		})
		require.NoError(t, err)
	}

	report, err := p.GetCostReport(ctx, ReportOptions{GroupBy: GroupByModel})
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalCalls)
	assert.Equal(t, int64(3000), report.InputTokens)
	require.Len(t, report.Groups, 2)
	assert.Equal(t, "claude-sonnet", report.Groups[0].Key)
	assert.Equal(t, 2, report.Groups[0].Calls)
}

func TestUsageReport(t *testing.T) {
	p := newPlane(t)
	ctx := context.Background()

	_, err := p.RecordLlmCost(ctx, LlmCall{
		UserID: "u1", Model: "claude-sonnet", Operation: "agent",
		InputTokens: 100, OutputTokens: 50, Success: true,
	})
	require.NoError(t, err)

	day := DayKey(time.Now())
	report, err := p.GetUsageReport(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "u1", report.Rows[0].UserID)
	assert.Equal(t, int64(150), report.Tokens)
}

func TestPeriodKeys(t *testing.T) {
	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-24", DayKey(ts))
	assert.Equal(t, "2026-08", MonthKey(ts))
	assert.Equal(t, "2026-W35", WeekKey(ts))
}

func TestPruneCosts(t *testing.T) {
	mem, err := store.NewMemory()
	require.NoError(t, err)
	p := NewPlane(mem, Options{TrackingEnabled: true, RetentionDays: 30})
	ctx := context.Background()

	old := &store.CostEntry{ID: "old", Timestamp: time.Now().Add(-40 * 24 * time.Hour), Model: "m", Operation: "agent"}
	require.NoError(t, mem.SaveCostEntry(ctx, old))
	_, err = p.RecordLlmCost(ctx, LlmCall{UserID: "u1", Model: "llama3.2", InputTokens: 1, OutputTokens: 1, Success: true})
	require.NoError(t, err)

	pruned, err := p.PruneCosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}
