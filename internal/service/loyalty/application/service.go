package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/tenant"
)

const defaultHistoryLimit = 50

type Auditor interface {
	Record(ctx context.Context, action auditdomain.Action, resource, description string, customerID *uint)
}

// LoyaltyService 积分流水、奖品兑换与服务目录
type LoyaltyService struct {
	store   domain.Store
	auditor Auditor
	tracer  trace.Tracer
	now     func() time.Time
}

func NewLoyaltyService(store domain.Store, auditor Auditor, tracer trace.Tracer) *LoyaltyService {
	return &LoyaltyService{store: store, auditor: auditor, tracer: tracer, now: time.Now}
}

// SetClock 测试用
func (s *LoyaltyService) SetClock(now func() time.Time) { s.now = now }

func (s *LoyaltyService) clock() time.Time { return s.now().UTC() }

func actorID(ctx context.Context) *uint {
	if id, ok := auth.FromContext(ctx); ok {
		return id.ActorID()
	}
	return nil
}

// CustomerPoints 顾客余额和最近流水
type CustomerPoints struct {
	CustomerID uint                       `json:"customer_id"`
	Balance    int                        `json:"balance"`
	Totals     domain.Totals              `json:"totals"`
	History    []*domain.PointTransaction `json:"history"`
}

func (s *LoyaltyService) Balance(ctx context.Context, customerID uint) (int, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.Balance", trace.WithAttributes(attribute.Int("customer.id", int(customerID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.FindCustomer(ctx, org.ID, customerID); err != nil {
		return 0, err
	}
	totals, err := s.store.CustomerTotals(ctx, org.ID, customerID)
	if err != nil {
		return 0, err
	}
	return totals.Balance(), nil
}

func (s *LoyaltyService) CustomerPoints(ctx context.Context, customerID uint, limit int) (*CustomerPoints, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.CustomerPoints", trace.WithAttributes(attribute.Int("customer.id", int(customerID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindCustomer(ctx, org.ID, customerID); err != nil {
		return nil, err
	}
	totals, err := s.store.CustomerTotals(ctx, org.ID, customerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := s.store.CustomerHistory(ctx, org.ID, customerID, limit)
	if err != nil {
		return nil, err
	}
	return &CustomerPoints{CustomerID: customerID, Balance: totals.Balance(), Totals: totals, History: history}, nil
}

type AssignPointsCommand struct {
	CustomerID  uint          `json:"customer_id"`
	Type        domain.TxType `json:"transaction_type"`
	Points      int           `json:"points"`
	Description string        `json:"description"`
}

// AssignPoints 员工手动发放或调整积分，只接受 EARN 和 ADJUST
func (s *LoyaltyService) AssignPoints(ctx context.Context, cmd AssignPointsCommand) (*domain.PointTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.AssignPoints", trace.WithAttributes(
		attribute.Int("customer.id", int(cmd.CustomerID)),
		attribute.Int("points", cmd.Points),
	))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Type == "" {
		cmd.Type = domain.TxEarn
	}
	if !cmd.Type.Credits() {
		return nil, domain.ErrInvalidType
	}

	var (
		entry    *domain.PointTransaction
		customer *domain.CustomerRef
	)
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if customer, err = tx.LockCustomer(ctx, org.ID, cmd.CustomerID); err != nil {
			return err
		}
		entry = &domain.PointTransaction{
			OrganizationID: org.ID,
			CustomerID:     customer.ID,
			Type:           cmd.Type,
			Points:         cmd.Points,
			Description:    cmd.Description,
			PerformedBy:    actorID(ctx),
			CreatedAt:      s.clock(),
		}
		if err := entry.Validate(); err != nil {
			return err
		}
		return tx.AppendPoints(ctx, entry)
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}

	s.auditor.Record(ctx, auditdomain.ActionPointsAdd, "point_transaction",
		fmt.Sprintf("%d puntos (%s) para %s", entry.Points, entry.Type, customer.FullName()), &customer.ID)
	logger.Ctx(ctx).Info().Uint("customer_id", customer.ID).Int("points", entry.Points).Str("type", string(entry.Type)).Msg("points assigned")
	return entry, nil
}

// RecordServiceSale 售出服务时按目录发放积分，积分为 0 的服务不写流水
func (s *LoyaltyService) RecordServiceSale(ctx context.Context, customerID, serviceID uint) (*domain.PointTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.RecordServiceSale", trace.WithAttributes(
		attribute.Int("customer.id", int(customerID)),
		attribute.Int("service.id", int(serviceID)),
	))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	item, err := s.store.FindService(ctx, org.ID, serviceID)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	if !item.IsActive {
		return nil, domain.ErrInvalidService
	}
	if item.PointsReward <= 0 {
		if _, err := s.store.FindCustomer(ctx, org.ID, customerID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.AssignPoints(ctx, AssignPointsCommand{
		CustomerID:  customerID,
		Type:        domain.TxEarn,
		Points:      item.PointsReward,
		Description: item.SaleDescription(),
	})
}

// RedeemResult 兑换结果
type RedeemResult struct {
	Redemption  *domain.Redemption       `json:"redemption"`
	Transaction *domain.PointTransaction `json:"transaction"`
	Balance     int                      `json:"balance"`
}

// RedeemReward 在顾客行锁内计算余额，余额不足时不写任何数据
func (s *LoyaltyService) RedeemReward(ctx context.Context, customerID, rewardID uint) (*RedeemResult, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.RedeemReward", trace.WithAttributes(
		attribute.Int("customer.id", int(customerID)),
		attribute.Int("reward.id", int(rewardID)),
	))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	by := actorID(ctx)
	var (
		res      *RedeemResult
		reward   *domain.Reward
		customer *domain.CustomerRef
	)
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if customer, err = tx.LockCustomer(ctx, org.ID, customerID); err != nil {
			return err
		}
		if reward, err = tx.FindReward(ctx, org.ID, rewardID); err != nil {
			return err
		}
		if !reward.Available(now, org.Location()) {
			return domain.ErrRewardUnavailable
		}
		totals, err := tx.CustomerTotals(ctx, org.ID, customer.ID)
		if err != nil {
			return err
		}
		if balance := totals.Balance(); balance < reward.PointsCost {
			return &domain.InsufficientBalanceError{Balance: balance, Cost: reward.PointsCost}
		}
		entry := &domain.PointTransaction{
			OrganizationID: org.ID,
			CustomerID:     customer.ID,
			Type:           domain.TxRedeem,
			Points:         reward.PointsCost,
			Description:    "Canje de recompensa: " + reward.Name,
			PerformedBy:    by,
			CreatedAt:      now,
		}
		if err := tx.AppendPoints(ctx, entry); err != nil {
			return err
		}
		redemption := &domain.Redemption{
			OrganizationID:     org.ID,
			CustomerID:         customer.ID,
			RewardID:           reward.ID,
			PointsSpent:        reward.PointsCost,
			PointTransactionID: entry.ID,
			ProcessedBy:        by,
			RedeemedAt:         now,
			RewardName:         reward.Name,
			CustomerName:       customer.FullName(),
		}
		if err := tx.CreateRedemption(ctx, redemption); err != nil {
			return err
		}
		res = &RedeemResult{
			Redemption:  redemption,
			Transaction: entry,
			Balance:     totals.Balance() - reward.PointsCost,
		}
		return nil
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}

	metrics.PointsRedeemed.WithLabelValues(org.Slug).Add(float64(reward.PointsCost))
	s.auditor.Record(ctx, auditdomain.ActionPointsRedeem, "redemption",
		fmt.Sprintf("Canje de %s (%d pts) por %s", reward.Name, reward.PointsCost, customer.FullName()), &customer.ID)
	logger.Ctx(ctx).Info().Uint("customer_id", customer.ID).Uint("reward_id", reward.ID).Int("balance", res.Balance).Msg("reward redeemed")
	return res, nil
}

func (s *LoyaltyService) Redemptions(ctx context.Context, limit int) ([]*domain.Redemption, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.Redemptions")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListRedemptions(ctx, org.ID, limit)
}

// Movements 时间段内的积分流水，报表和导出使用
func (s *LoyaltyService) Movements(ctx context.Context, from, to time.Time, limit int) ([]*domain.PointTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.Movements")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListPoints(ctx, org.ID, from, to, limit)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
