package admin

import (
	"context"
	"sort"
	"time"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

// GroupBy selects a report grouping dimension.
type GroupBy string

const (
	GroupByDay       GroupBy = "day"
	GroupByWeek      GroupBy = "week"
	GroupByMonth     GroupBy = "month"
	GroupByUser      GroupBy = "user"
	GroupByTier      GroupBy = "tier"
	GroupByModel     GroupBy = "model"
	GroupByOperation GroupBy = "operation"
)

// ReportOptions bound and group a report.
type ReportOptions struct {
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
	GroupBy GroupBy   `json:"group_by,omitempty"`
}

// ReportGroup is one aggregated bucket.
type ReportGroup struct {
	Key          string `json:"key"`
	Calls        int    `json:"calls"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CostCents    int64  `json:"cost_cents"`
	Failures     int    `json:"failures"`
}

// CostReport aggregates cost entries over a date range.
type CostReport struct {
	From         time.Time     `json:"from,omitempty"`
	To           time.Time     `json:"to,omitempty"`
	TotalCalls   int           `json:"total_calls"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	CostCents    int64         `json:"cost_cents"`
	Failures     int           `json:"failures"`
	Groups       []ReportGroup `json:"groups,omitempty"`
}

// GetCostReport aggregates cost entries, optionally grouped.
func (p *Plane) GetCostReport(ctx context.Context, opts ReportOptions) (*CostReport, error) {
	entries, err := p.store.ListCostEntries(ctx, opts.From, opts.To)
	if err != nil {
		return nil, protocol.NewComponentError("admin", "GetCostReport", "list cost entries", err)
	}

	report := &CostReport{From: opts.From, To: opts.To}
	buckets := make(map[string]*ReportGroup)

	for _, e := range entries {
		report.TotalCalls++
		report.InputTokens += int64(e.InputTokens)
		report.OutputTokens += int64(e.OutputTokens)
		report.CostCents += e.CostCents
		if !e.Success {
			report.Failures++
		}

		if opts.GroupBy == "" {
			continue
		}
		key := p.groupKey(opts.GroupBy, e)
		g, ok := buckets[key]
		if !ok {
			g = &ReportGroup{Key: key}
			buckets[key] = g
		}
		g.Calls++
		g.InputTokens += int64(e.InputTokens)
		g.OutputTokens += int64(e.OutputTokens)
		g.CostCents += e.CostCents
		if !e.Success {
			g.Failures++
		}
	}

	for _, g := range buckets {
		report.Groups = append(report.Groups, *g)
	}
	sort.Slice(report.Groups, func(i, j int) bool { return report.Groups[i].Key < report.Groups[j].Key })
	return report, nil
}

func (p *Plane) groupKey(groupBy GroupBy, e *store.CostEntry) string {
	switch groupBy {
	case GroupByDay:
		return DayKey(e.Timestamp)
	case GroupByWeek:
		return WeekKey(e.Timestamp)
	case GroupByMonth:
		return MonthKey(e.Timestamp)
	case GroupByUser:
		return e.UserID
	case GroupByTier:
		return p.TierFor(e.UserID).ID
	case GroupByModel:
		return e.Model
	case GroupByOperation:
		return e.Operation
	default:
		return ""
	}
}

// UsageReportRow is one user-period aggregate.
type UsageReportRow struct {
	UserID       string `json:"user_id"`
	Period       string `json:"period"`
	Tier         string `json:"tier"`
	TokensUsed   int64  `json:"tokens_used"`
	RequestCount int64  `json:"request_count"`
	CostCents    int64  `json:"cost_cents"`
}

// UsageReport lists per-(user, period) aggregates over a period range.
type UsageReport struct {
	FromPeriod string           `json:"from_period,omitempty"`
	ToPeriod   string           `json:"to_period,omitempty"`
	Rows       []UsageReportRow `json:"rows"`
	Tokens     int64            `json:"tokens"`
	CostCents  int64            `json:"cost_cents"`
}

// GetUsageReport reads usage aggregates between two period keys
// (inclusive, lexicographic — day keys with day keys, month with month).
func (p *Plane) GetUsageReport(ctx context.Context, fromPeriod, toPeriod string) (*UsageReport, error) {
	records, err := p.store.ListUsage(ctx, fromPeriod, toPeriod)
	if err != nil {
		return nil, protocol.NewComponentError("admin", "GetUsageReport", "list usage", err)
	}

	report := &UsageReport{FromPeriod: fromPeriod, ToPeriod: toPeriod}
	for _, r := range records {
		report.Rows = append(report.Rows, UsageReportRow{
			UserID:       r.UserID,
			Period:       r.Period,
			Tier:         p.TierFor(r.UserID).ID,
			TokensUsed:   r.TokensUsed,
			RequestCount: r.RequestCount,
			CostCents:    r.CostCents,
		})
		report.Tokens += r.TokensUsed
		report.CostCents += r.CostCents
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		if report.Rows[i].Period != report.Rows[j].Period {
			return report.Rows[i].Period < report.Rows[j].Period
		}
		return report.Rows[i].UserID < report.Rows[j].UserID
	})
	return report, nil
}
