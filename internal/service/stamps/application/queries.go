package application

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	customerdomain "loyaltyhub/internal/service/customer/domain"
	stampsdomain "loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
)

// Board 员工看板：按顾客分组的未兑换卡片，过期的卡片不展示
func (s *StampService) Board(ctx context.Context, query string) (*stampsdomain.Board, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.Board")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.BoardCards(ctx, org.ID, query)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	visible := rows[:0]
	for _, row := range rows {
		if row.Customer == nil || !s.visible(row.Card.StampCard, org, now) {
			continue
		}
		s.decorate(row.Card, org)
		visible = append(visible, row)
	}
	groups, stats := stampsdomain.GroupCards(visible)
	stats.StampsToday, err = s.store.CountAddsSince(ctx, org.ID, org.StartOfDay(now).UTC())
	if err != nil {
		return nil, err
	}
	return &stampsdomain.Board{Groups: groups, Stats: stats}, nil
}

// CustomerHistory 顾客最近 20 条流水
func (s *StampService) CustomerHistory(ctx context.Context, customerID uint) ([]*stampsdomain.HistoryEntry, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.CustomerHistory")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindCustomer(ctx, org.ID, customerID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, org.ID, customerID, historyLimit)
}

// MyCards 顾客本人的未兑换卡片，章数多的在前
func (s *StampService) MyCards(ctx context.Context) ([]*stampsdomain.CardView, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.MyCards")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	me, err := s.currentCustomer(ctx, s.store, org.ID)
	if err != nil {
		return nil, err
	}
	return s.cardViews(ctx, org, me.ID)
}

// PublicCards 公开页按手机号查卡，手机号不存在时返回空列表
func (s *StampService) PublicCards(ctx context.Context, phone string) ([]*stampsdomain.CardView, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.PublicCards")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.store.FindCustomerByPhone(ctx, org.ID, customerdomain.NormalizePhone(phone))
	if err != nil {
		if errors.Is(err, stampsdomain.ErrCustomerNotFound) {
			return []*stampsdomain.CardView{}, nil
		}
		return nil, err
	}
	if !c.IsActive {
		return []*stampsdomain.CardView{}, nil
	}
	return s.cardViews(ctx, org, c.ID)
}

func (s *StampService) cardViews(ctx context.Context, org *tenant.Organization, customerID uint) ([]*stampsdomain.CardView, error) {
	cards, err := s.store.CardsForCustomer(ctx, org.ID, customerID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	promos := map[uint]*stampsdomain.StampPromotion{}
	out := make([]*stampsdomain.CardView, 0, len(cards))
	for _, c := range cards {
		if c.IsRedeemed || !s.visible(c, org, now) {
			continue
		}
		p, ok := promos[c.PromotionID]
		if !ok {
			if p, err = s.store.FindPromotion(ctx, org.ID, c.PromotionID); err != nil {
				return nil, err
			}
			promos[c.PromotionID] = p
		}
		v := &stampsdomain.CardView{StampCard: c, Promotion: p}
		s.decorate(v, org)
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CurrentStamps > out[j].CurrentStamps })
	return out, nil
}

// visible 过期与否只看创建时间，已完成未兑换的卡同样过期
func (s *StampService) visible(c *stampsdomain.StampCard, org *tenant.Organization, now time.Time) bool {
	return !c.IsExpired(now, org.StampsExpirationMonths)
}

func (s *StampService) decorate(v *stampsdomain.CardView, org *tenant.Organization) {
	if exp, ok := v.StampCard.ExpiresAt(org.StampsExpirationMonths); ok {
		v.ExpiresOn = &exp
	}
}

// Promotions 活动列表
func (s *StampService) Promotions(ctx context.Context) ([]*stampsdomain.StampPromotion, error) {
	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.ListPromotions(ctx, org.ID, false)
}

func (s *StampService) CreatePromotion(ctx context.Context, p *stampsdomain.StampPromotion) error {
	ctx, span := s.tracer.Start(ctx, "stamps.CreatePromotion")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	p.OrganizationID = org.ID
	p.CreatedAt = s.clock()
	if err := p.Validate(); err != nil {
		return err
	}
	return s.store.CreatePromotion(ctx, p)
}

func (s *StampService) UpdatePromotion(ctx context.Context, p *stampsdomain.StampPromotion) error {
	ctx, span := s.tracer.Start(ctx, "stamps.UpdatePromotion")
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	p.OrganizationID = org.ID
	if err := p.Validate(); err != nil {
		return err
	}
	return s.store.UpdatePromotion(ctx, p)
}
