package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/gate/domain"
)

// GateService 功能开关与用量额度
type GateService struct {
	repo    domain.Repository
	counter domain.UsageCounter
	tracer  trace.Tracer
	now     func() time.Time
}

func NewGateService(repo domain.Repository, counter domain.UsageCounter, tracer trace.Tracer) *GateService {
	return &GateService{repo: repo, counter: counter, tracer: tracer, now: time.Now}
}

// HasFeature 超级管理员总是放行；其他人看租户的开关行，没有行视为关闭
func (s *GateService) HasFeature(ctx context.Context, id auth.Identity, orgID uint, key string) (bool, error) {
	if id.IsSuperuser() {
		return true, nil
	}
	if orgID == 0 {
		return false, nil
	}
	f, err := s.repo.FindFeature(ctx, orgID, key)
	if err != nil {
		return false, err
	}
	return f != nil && f.Enabled, nil
}

// CheckLimit 没有配置视为不限；超额但未强制时只告警
func (s *GateService) CheckLimit(ctx context.Context, orgID uint, t domain.LimitType) error {
	ctx, span := s.tracer.Start(ctx, "gate.CheckLimit")
	defer span.End()
	span.SetAttributes(attribute.String("limit.type", string(t)))

	l, err := s.repo.FindLimit(ctx, orgID, t)
	if err != nil || l == nil {
		return err
	}
	if !l.IsExceeded() {
		if l.NearLimit() {
			logger.Ctx(ctx).Warn().Str("limit", string(t)).Int("usage", l.CurrentUsage).Int("limit_value", l.Value).
				Msg("usage approaching limit")
		}
		return nil
	}
	if !l.Enforce {
		logger.Ctx(ctx).Warn().Str("limit", string(t)).Msg("usage limit exceeded but not enforced")
		return nil
	}
	err = &domain.LimitExceededError{Type: t, Usage: l.CurrentUsage, Limit: l.Value}
	span.RecordError(err)
	return err
}

// RefreshUsage 重新统计用量并写回；没有配置额度或类型不支持统计时什么也不做
func (s *GateService) RefreshUsage(ctx context.Context, orgID uint, t domain.LimitType) error {
	ctx, span := s.tracer.Start(ctx, "gate.RefreshUsage")
	defer span.End()

	l, err := s.repo.FindLimit(ctx, orgID, t)
	if err != nil || l == nil {
		return err
	}
	count, supported, err := s.counter.Count(ctx, orgID, t, s.now())
	if err != nil || !supported {
		return err
	}
	return s.repo.SetUsage(ctx, orgID, t, count)
}

// SetFeature 管理操作：开启或关闭某个功能
func (s *GateService) SetFeature(ctx context.Context, orgID uint, key string, enabled bool, notes string) error {
	if !domain.IsKnownFeature(key) {
		return domain.ErrUnknownFeature
	}
	f := &domain.FeatureFlag{OrganizationID: orgID, Key: key, Enabled: enabled, Notes: notes}
	if enabled {
		now := s.now().UTC()
		f.EnabledAt = &now
	}
	return s.repo.SaveFeature(ctx, f)
}

// SetLimit 管理操作：配置额度，保存后立即刷新一次用量
func (s *GateService) SetLimit(ctx context.Context, l domain.UsageLimit) error {
	if !l.Type.Valid() {
		return domain.ErrUnknownLimit
	}
	if l.WarningThreshold <= 0 || l.WarningThreshold > 100 {
		l.WarningThreshold = domain.DefaultWarningThreshold
	}
	if err := s.repo.SaveLimit(ctx, &l); err != nil {
		return err
	}
	return s.RefreshUsage(ctx, l.OrganizationID, l.Type)
}

func (s *GateService) Features(ctx context.Context, orgID uint) ([]*domain.FeatureFlag, error) {
	return s.repo.ListFeatures(ctx, orgID)
}

func (s *GateService) Limits(ctx context.Context, orgID uint) ([]*domain.UsageLimit, error) {
	return s.repo.ListLimits(ctx, orgID)
}
