package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/account/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
)

// UsageGate 创建员工前检查额度，创建后刷新计数
type UsageGate interface {
	CheckLimit(ctx context.Context, orgID uint, t gatedomain.LimitType) error
	RefreshUsage(ctx context.Context, orgID uint, t gatedomain.LimitType) error
}

type AccountService struct {
	repo   domain.Repository
	gate   UsageGate
	tokens *auth.TokenIssuer
	tracer trace.Tracer
}

func NewAccountService(repo domain.Repository, gate UsageGate, tokens *auth.TokenIssuer, tracer trace.Tracer) *AccountService {
	return &AccountService{repo: repo, gate: gate, tokens: tokens, tracer: tracer}
}

// CreateUser 员工账号受 staff 额度限制
func (s *AccountService) CreateUser(ctx context.Context, u *domain.User) error {
	ctx, span := s.tracer.Start(ctx, "account.CreateUser")
	defer span.End()

	if err := u.Validate(); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("user.role", string(u.Role())))

	if u.IsStaffMember && u.OrganizationID != nil {
		if err := s.gate.CheckLimit(ctx, *u.OrganizationID, gatedomain.LimitStaff); err != nil {
			return err
		}
	}
	if err := s.repo.Create(ctx, u); err != nil {
		span.RecordError(err)
		return err
	}
	if u.IsStaffMember && u.OrganizationID != nil {
		if err := s.gate.RefreshUsage(ctx, *u.OrganizationID, gatedomain.LimitStaff); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to refresh staff usage")
		}
	}
	logger.Ctx(ctx).Info().Uint("user_id", u.ID).Str("role", string(u.Role())).Msg("user created")
	return nil
}

// IssueToken 为已存在的账号签发访问令牌
func (s *AccountService) IssueToken(ctx context.Context, email string) (string, auth.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "account.IssueToken")
	defer span.End()

	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", auth.Identity{}, err
	}
	id := u.Identity()
	token, err := s.tokens.Issue(id)
	if err != nil {
		span.RecordError(err)
		return "", auth.Identity{}, err
	}
	return token, id, nil
}
