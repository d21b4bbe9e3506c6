package application

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/tenant"
)

func (s *LoyaltyService) Rewards(ctx context.Context, activeOnly bool) ([]*domain.Reward, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.Rewards")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListRewards(ctx, org.ID, activeOnly)
}

func (s *LoyaltyService) Reward(ctx context.Context, id uint) (*domain.Reward, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.FindReward(ctx, org.ID, id)
}

func (s *LoyaltyService) CreateReward(ctx context.Context, r *domain.Reward) error {
	ctx, span := s.tracer.Start(ctx, "loyalty.CreateReward")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	r.OrganizationID = org.ID
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateReward(ctx, r); err != nil {
		fail(span, err)
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionCreate, "reward", fmt.Sprintf("Recompensa creada: %s", r.Name), nil)
	return nil
}

func (s *LoyaltyService) UpdateReward(ctx context.Context, r *domain.Reward) error {
	ctx, span := s.tracer.Start(ctx, "loyalty.UpdateReward", trace.WithAttributes(attribute.Int("reward.id", int(r.ID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	r.OrganizationID = org.ID
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateReward(ctx, r); err != nil {
		fail(span, err)
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionUpdate, "reward", fmt.Sprintf("Recompensa actualizada: %s", r.Name), nil)
	return nil
}

// DeleteReward 已有兑换记录的奖品不能删除
func (s *LoyaltyService) DeleteReward(ctx context.Context, id uint) error {
	ctx, span := s.tracer.Start(ctx, "loyalty.DeleteReward", trace.WithAttributes(attribute.Int("reward.id", int(id))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	var name string
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		r, err := tx.FindReward(ctx, org.ID, id)
		if err != nil {
			return err
		}
		name = r.Name
		n, err := tx.CountRedemptions(ctx, org.ID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrRewardInUse
		}
		return tx.DeleteReward(ctx, org.ID, id)
	})
	if err != nil {
		fail(span, err)
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionDelete, "reward", fmt.Sprintf("Recompensa eliminada: %s", name), nil)
	return nil
}

func (s *LoyaltyService) Categories(ctx context.Context) ([]*domain.ServiceCategory, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx, org.ID)
}

func (s *LoyaltyService) CreateCategory(ctx context.Context, c *domain.ServiceCategory) error {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	if c.Name == "" {
		return errors.Wrap(domain.ErrInvalidService, "category name is required")
	}
	c.OrganizationID = org.ID
	return s.store.CreateCategory(ctx, c)
}

func (s *LoyaltyService) Services(ctx context.Context, activeOnly bool) ([]*domain.ServiceItem, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.Services")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListServices(ctx, org.ID, activeOnly)
}

func (s *LoyaltyService) Service(ctx context.Context, id uint) (*domain.ServiceItem, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.FindService(ctx, org.ID, id)
}

func (s *LoyaltyService) CreateService(ctx context.Context, item *domain.ServiceItem) error {
	ctx, span := s.tracer.Start(ctx, "loyalty.CreateService")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	item.OrganizationID = org.ID
	if err := item.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateService(ctx, item); err != nil {
		fail(span, err)
		return err
	}
	s.auditor.Record(ctx, auditdomain.ActionCreate, "service", fmt.Sprintf("Servicio creado: %s", item.Name), nil)
	return nil
}

func (s *LoyaltyService) UpdateService(ctx context.Context, item *domain.ServiceItem) error {
	ctx, span := s.tracer.Start(ctx, "loyalty.UpdateService", trace.WithAttributes(attribute.Int("service.id", int(item.ID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	item.OrganizationID = org.ID
	if err := item.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateService(ctx, item); err != nil {
		fail(span, err)
		return err
	}
	return nil
}
