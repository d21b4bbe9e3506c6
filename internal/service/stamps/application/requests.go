package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/logger"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
)

// SubmitRequestCommand 公开扫码页提交的数据
type SubmitRequestCommand struct {
	Phone       string `json:"phone"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PromotionID uint   `json:"promotion_id"`
}

// PendingRequest 待处理申请及其顾客、活动
type PendingRequest struct {
	*domain.StampRequest
	Customer  *domain.CustomerInfo `json:"customer"`
	Promotion string               `json:"promotion"`
}

// SubmitStampRequest 顾客扫码申请加章。冷却期内已有待处理申请时返回 CooldownError。
func (s *StampService) SubmitStampRequest(ctx context.Context, cmd SubmitRequestCommand) (*domain.StampRequest, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.SubmitStampRequest")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	promo, err := s.runningPromotion(ctx, s.store, org, cmd.PromotionID, now)
	if err != nil {
		return nil, err
	}
	customer, created, err := s.customers.FindOrCreateByPhone(ctx, cmd.Phone, cmd.FirstName, cmd.LastName)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("customer.id", int(customer.ID)), attribute.Bool("customer.created", created))

	cooldown := org.LockDuration()
	if s.guard != nil && cooldown > 0 {
		ok, err := s.guard.Acquire(ctx, org.ID, customer.ID, promo.ID, cooldown)
		if err != nil {
			// redis 不可用时退回数据库检查
			logger.Ctx(ctx).Warn().Err(err).Msg("stamp request guard unavailable")
		} else if !ok {
			err := s.cooldownError(ctx, org.ID, customer.ID, promo.ID, cooldown)
			s.reject(span, err)
			return nil, err
		}
	}

	req := &domain.StampRequest{
		OrganizationID: org.ID,
		CustomerID:     customer.ID,
		PromotionID:    promo.ID,
		Status:         domain.RequestPending,
		CreatedAt:      now,
	}
	var info *domain.CustomerInfo
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if info, err = tx.LockCustomer(ctx, org.ID, customer.ID); err != nil {
			return err
		}
		last, err := tx.LatestPendingRequest(ctx, org.ID, customer.ID, promo.ID)
		switch {
		case err == nil:
			if remaining := last.CooldownRemaining(now, cooldown); remaining > 0 {
				return &domain.CooldownError{Remaining: remaining}
			}
		case !errors.Is(err, domain.ErrRequestNotFound):
			return err
		}
		return tx.CreateRequest(ctx, req)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrRequestCooldown) {
			s.release(ctx, req)
		}
		s.reject(span, err)
		return nil, err
	}

	logger.Ctx(ctx).Info().Uint("request_id", req.ID).Uint("customer_id", customer.ID).Msg("stamp request submitted")
	s.publish(org.ID, EventRequestCreated, req, info, promo.Name)
	return req, nil
}

func (s *StampService) cooldownError(ctx context.Context, orgID, customerID, promotionID uint, cooldown time.Duration) error {
	last, err := s.store.LatestPendingRequest(ctx, orgID, customerID, promotionID)
	if err == nil {
		if remaining := last.CooldownRemaining(s.clock(), cooldown); remaining > 0 {
			return &domain.CooldownError{Remaining: remaining}
		}
	}
	return &domain.CooldownError{Remaining: cooldown}
}

// ApproveRequest 批准申请：按正常流程加一个章（不受防刷和双倍限制）
func (s *StampService) ApproveRequest(ctx context.Context, requestID uint) (*AddStampsResult, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.ApproveRequest", trace.WithAttributes(attribute.Int("request.id", int(requestID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	who, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var (
		req *domain.StampRequest
		res *AddStampsResult
	)
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if req, err = s.lockRequest(ctx, tx, org.ID, requestID); err != nil {
			return err
		}
		customer, err := tx.FindCustomer(ctx, org.ID, req.CustomerID)
		if err != nil {
			return err
		}
		promo, err := tx.FindPromotion(ctx, org.ID, req.PromotionID)
		if err != nil {
			return err
		}
		if !promo.IsRunning(now, org.Location()) {
			return domain.ErrPromotionInactive
		}
		if res, err = s.applyStamps(ctx, tx, org, customer, promo, 1, who.ActorID(), now); err != nil {
			return err
		}
		if err := req.Approve(who.ActorID(), res.Transaction.ID, now); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, req)
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.afterAdd(ctx, org, res)
	s.release(ctx, req)
	s.publish(org.ID, EventRequestResolved, req, res.customer, res.Promotion.Name)
	return res, nil
}

// RejectRequest 拒绝申请，不动卡片
func (s *StampService) RejectRequest(ctx context.Context, requestID uint) (*domain.StampRequest, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.RejectRequest", trace.WithAttributes(attribute.Int("request.id", int(requestID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	who, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var req *domain.StampRequest
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if req, err = s.lockRequest(ctx, tx, org.ID, requestID); err != nil {
			return err
		}
		if err := req.Reject(who.ActorID(), now); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, req)
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.auditor.Record(ctx, auditdomain.ActionUpdate, "stamp_request",
		fmt.Sprintf("Solicitud de sello #%d rechazada", req.ID), &req.CustomerID)
	s.release(ctx, req)
	s.publish(org.ID, EventRequestResolved, req, nil, "")
	return req, nil
}

// lockRequest 锁顾客后重新读取申请，避免重复审批
func (s *StampService) lockRequest(ctx context.Context, tx domain.Store, orgID, requestID uint) (*domain.StampRequest, error) {
	req, err := tx.FindRequest(ctx, orgID, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.LockCustomer(ctx, orgID, req.CustomerID); err != nil {
		return nil, err
	}
	return tx.FindRequest(ctx, orgID, requestID)
}

func (s *StampService) PendingRequests(ctx context.Context) ([]*PendingRequest, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.PendingRequests")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	reqs, err := s.store.ListPendingRequests(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	promoNames := map[uint]string{}
	out := make([]*PendingRequest, 0, len(reqs))
	for _, r := range reqs {
		c, err := s.store.FindCustomer(ctx, org.ID, r.CustomerID)
		if err != nil {
			return nil, err
		}
		name, ok := promoNames[r.PromotionID]
		if !ok {
			if p, err := s.store.FindPromotion(ctx, org.ID, r.PromotionID); err == nil {
				name = p.Name
			}
			promoNames[r.PromotionID] = name
		}
		out = append(out, &PendingRequest{StampRequest: r, Customer: c, Promotion: name})
	}
	return out, nil
}

func (s *StampService) release(ctx context.Context, req *domain.StampRequest) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Release(ctx, req.OrganizationID, req.CustomerID, req.PromotionID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Uint("request_id", req.ID).Msg("release stamp request guard")
	}
}

func (s *StampService) publish(orgID uint, kind string, req *domain.StampRequest, c *domain.CustomerInfo, promo string) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(orgID, RequestEvent{Type: kind, Request: req, Customer: c, Promotion: promo})
}
