package aui

import (
	"context"

	"github.com/auilabs/aui/pkg/admin"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

// Admin surface of the service API. These are thin passthroughs to the
// admin plane; they still resolve and touch the calling session.

func (s *Service) GetConfigValue(ctx context.Context, sessionID, category, key string) (protocol.Value, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return protocol.Null(), err
	}
	return s.admin.GetConfig(category, key)
}

func (s *Service) SetConfigValue(ctx context.Context, sessionID, category, key string, value protocol.Value, reason string) error {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.admin.SetConfig(category, key, value, reason, sess.UserID)
	return nil
}

func (s *Service) CreatePrompt(ctx context.Context, sessionID, name, text, description string) (*admin.PromptTemplate, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.CreatePrompt(name, text, description), nil
}

func (s *Service) GetPrompt(ctx context.Context, sessionID, promptID string) (*admin.PromptTemplate, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.GetPrompt(promptID)
}

func (s *Service) ListPrompts(ctx context.Context, sessionID string) ([]*admin.PromptTemplate, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.ListPrompts(), nil
}

func (s *Service) UpdatePrompt(ctx context.Context, sessionID, promptID, text, description string) (*admin.PromptTemplate, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.UpdatePrompt(promptID, text, description)
}

func (s *Service) DeletePrompt(ctx context.Context, sessionID, promptID string) error {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return err
	}
	return s.admin.DeletePrompt(promptID)
}

func (s *Service) TestPrompt(ctx context.Context, sessionID, promptID string, vars map[string]string) (string, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return "", err
	}
	return s.admin.TestPrompt(promptID, vars)
}

func (s *Service) GetCostReport(ctx context.Context, sessionID string, opts admin.ReportOptions) (*admin.CostReport, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.GetCostReport(ctx, opts)
}

// GetUsage returns the calling user's usage aggregate for a period.
func (s *Service) GetUsage(ctx context.Context, sessionID, period string) (*store.UsageRecord, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.admin.GetUsage(ctx, sess.UserID, period)
}

func (s *Service) GetUsageReport(ctx context.Context, sessionID, fromPeriod, toPeriod string) (*admin.UsageReport, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.GetUsageReport(ctx, fromPeriod, toPeriod)
}

func (s *Service) CheckLimits(ctx context.Context, sessionID string) (*admin.LimitStatus, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.admin.CheckLimits(ctx, sess.UserID)
}

func (s *Service) ListTiers(ctx context.Context, sessionID string) ([]*admin.Tier, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.admin.ListTiers(), nil
}

func (s *Service) SetUserTier(ctx context.Context, sessionID, userID, tierID string) error {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return err
	}
	return s.admin.SetUserTier(userID, tierID)
}
