package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/metrics"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	notificationdomain "loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
)

const (
	DefaultUndoWindow = 24 * time.Hour
	historyLimit      = 20
)

type Options struct {
	Guard      RequestGuard
	Feed       RequestFeed
	UndoWindow time.Duration
}

// StampService 集章卡生命周期：加章、兑换、撤销、扫码申请
type StampService struct {
	store      domain.Store
	notifier   CardNotifier
	auditor    Auditor
	customers  CustomerDirectory
	guard      RequestGuard
	feed       RequestFeed
	undoWindow time.Duration
	tracer     trace.Tracer
	now        func() time.Time
}

func NewStampService(store domain.Store, notifier CardNotifier, auditor Auditor, customers CustomerDirectory,
	tracer trace.Tracer, opts Options) *StampService {
	if opts.UndoWindow <= 0 {
		opts.UndoWindow = DefaultUndoWindow
	}
	return &StampService{
		store:      store,
		notifier:   notifier,
		auditor:    auditor,
		customers:  customers,
		guard:      opts.Guard,
		feed:       opts.Feed,
		undoWindow: opts.UndoWindow,
		tracer:     tracer,
		now:        time.Now,
	}
}

// SetClock 测试用
func (s *StampService) SetClock(now func() time.Time) { s.now = now }

func (s *StampService) clock() time.Time { return s.now().UTC() }

type AddStampsCommand struct {
	CustomerID uint `json:"customer_id"`
	// PromotionID 为 0 时使用租户第一个进行中的活动
	PromotionID uint `json:"promotion_id"`
	Quantity    int  `json:"quantity"`
}

type AddStampsResult struct {
	Card          *domain.StampCard        `json:"card"`
	Promotion     *domain.StampPromotion   `json:"promotion"`
	Transaction   *domain.StampTransaction `json:"transaction"`
	Quantity      int                      `json:"quantity"`
	DoubleStamp   bool                     `json:"double_stamp"`
	JustCompleted bool                     `json:"just_completed"`

	customer *domain.CustomerInfo
}

// AddStamps 加章。非特权操作者受防刷间隔限制；双倍印章日单章变两章。
func (s *StampService) AddStamps(ctx context.Context, cmd AddStampsCommand) (*AddStampsResult, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.AddStamps", trace.WithAttributes(
		attribute.Int("customer.id", int(cmd.CustomerID)),
		attribute.Int("stamps.quantity", cmd.Quantity),
	))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	who, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.Quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.clock()
	var res *AddStampsResult
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		customer, err := tx.LockCustomer(ctx, org.ID, cmd.CustomerID)
		if err != nil {
			return err
		}
		promo, err := s.runningPromotion(ctx, tx, org, cmd.PromotionID, now)
		if err != nil {
			return err
		}
		if !who.Privileged() {
			if err := s.checkLock(ctx, tx, org, customer.ID, now); err != nil {
				return err
			}
		}
		qty, double := cmd.Quantity, false
		if qty == 1 && org.IsDoubleStampDay(now) {
			qty, double = 2, true
		}
		res, err = s.applyStamps(ctx, tx, org, customer, promo, qty, who.ActorID(), now)
		if err != nil {
			return err
		}
		res.DoubleStamp = double
		return nil
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.afterAdd(ctx, org, res)
	return res, nil
}

func (s *StampService) checkLock(ctx context.Context, tx domain.Store, org *tenant.Organization, customerID uint, now time.Time) error {
	lock := org.LockDuration()
	if lock <= 0 {
		return nil
	}
	last, err := tx.LastAddAt(ctx, org.ID, customerID)
	if err != nil || last == nil {
		return err
	}
	if wait := lock - now.Sub(*last); wait > 0 {
		return &domain.TooSoonError{Remaining: wait}
	}
	return nil
}

// runningPromotion id 为 0 时取第一个进行中的活动
func (s *StampService) runningPromotion(ctx context.Context, tx domain.Store, org *tenant.Organization, id uint, now time.Time) (*domain.StampPromotion, error) {
	loc := org.Location()
	if id != 0 {
		p, err := tx.FindPromotion(ctx, org.ID, id)
		if err != nil {
			return nil, err
		}
		if !p.IsRunning(now, loc) {
			return nil, domain.ErrPromotionInactive
		}
		return p, nil
	}
	promos, err := tx.ListPromotions(ctx, org.ID, true)
	if err != nil {
		return nil, err
	}
	for _, p := range promos {
		if p.IsRunning(now, loc) {
			return p, nil
		}
	}
	return nil, domain.ErrPromotionInactive
}

// applyStamps 找到或新建进行中的卡片并加章，追加 ADD 流水。调用方已持有顾客行锁。
func (s *StampService) applyStamps(ctx context.Context, tx domain.Store, org *tenant.Organization, customer *domain.CustomerInfo,
	promo *domain.StampPromotion, qty int, by *uint, now time.Time) (*AddStampsResult, error) {
	card, err := s.openCard(ctx, tx, org, customer.ID, promo.ID, now)
	if err != nil {
		return nil, err
	}
	completed := card.AddStamps(qty, promo.TotalStampsNeeded, now)
	if err := tx.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	entry := &domain.StampTransaction{
		OrganizationID: org.ID,
		CardID:         card.ID,
		Action:         domain.ActionAdd,
		Quantity:       qty,
		PerformedBy:    by,
		CreatedAt:      now,
	}
	if err := tx.AppendTransaction(ctx, entry); err != nil {
		return nil, err
	}
	return &AddStampsResult{
		Card:          card,
		Promotion:     promo,
		Transaction:   entry,
		Quantity:      qty,
		JustCompleted: completed,
		customer:      customer,
	}, nil
}

// openCard 进行中的卡已过期则视为没有，新开一张
func (s *StampService) openCard(ctx context.Context, tx domain.Store, org *tenant.Organization, customerID, promotionID uint, now time.Time) (*domain.StampCard, error) {
	card, err := tx.FindOpenCard(ctx, org.ID, customerID, promotionID)
	switch {
	case err == nil && !card.IsExpired(now, org.StampsExpirationMonths):
		return card, nil
	case err != nil && !errors.Is(err, domain.ErrCardNotFound):
		return nil, err
	}
	card = domain.NewCard(org.ID, customerID, promotionID, now)
	if err := tx.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *StampService) afterAdd(ctx context.Context, org *tenant.Organization, res *AddStampsResult) {
	metrics.StampsAdded.WithLabelValues(org.Slug).Add(float64(res.Quantity))
	if res.JustCompleted {
		metrics.CardsCompleted.WithLabelValues(org.Slug).Inc()
	}
	desc := fmt.Sprintf("Se agregaron %d sello(s) a %s (%s)", res.Quantity, res.customer.FullName(), res.Promotion.Name)
	if res.DoubleStamp {
		desc += " [doble sello]"
	}
	s.auditor.Record(ctx, auditdomain.ActionStampAdd, "stamp_card", desc, &res.customer.ID)
	s.notify(ctx, org, res.Card, res.Promotion, res.customer)

	logger.Ctx(ctx).Info().
		Uint("card_id", res.Card.ID).
		Int("quantity", res.Quantity).
		Int("current", res.Card.CurrentStamps).
		Bool("completed", res.Card.IsCompleted).
		Msg("stamps added")
}

func (s *StampService) notify(ctx context.Context, org *tenant.Organization, card *domain.StampCard, promo *domain.StampPromotion, c *domain.CustomerInfo) {
	if s.notifier == nil {
		return
	}
	s.notifier.CardChanged(ctx, org, notificationdomain.CardState{
		CardID:               card.ID,
		CurrentStamps:        card.CurrentStamps,
		StampsNeeded:         promo.TotalStampsNeeded,
		IsCompleted:          card.IsCompleted,
		IsRedeemed:           card.IsRedeemed,
		CompletedNotified:    card.CompletedNotified,
		OneStampReminderSent: card.OneStampReminderSent,
		PromotionName:        promo.Name,
		RewardLabel:          notificationdomain.RewardLabel("", promo.RewardDescription),
	}, notificationdomain.Recipient{
		CustomerID: c.ID,
		FirstName:  c.FirstName,
		FullName:   c.FullName(),
		Phone:      c.Phone,
		Email:      c.Email,
	})
}

func (s *StampService) reject(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	reason := ""
	switch {
	case errors.Is(err, domain.ErrTooSoon):
		reason = "too_soon"
	case errors.Is(err, domain.ErrPromotionInactive):
		reason = "promotion_inactive"
	case errors.Is(err, domain.ErrInvalidState):
		reason = "invalid_state"
	case errors.Is(err, domain.ErrUndoWindowExpired):
		reason = "undo_window"
	case errors.Is(err, domain.ErrRequestCooldown):
		reason = "cooldown"
	default:
		return
	}
	metrics.StampRejections.WithLabelValues(reason).Inc()
}

// cardContext 锁住卡片所属顾客后重新读取卡片和活动
type cardContext struct {
	card     *domain.StampCard
	promo    *domain.StampPromotion
	customer *domain.CustomerInfo
}

func (s *StampService) lockCard(ctx context.Context, tx domain.Store, orgID, cardID uint) (*cardContext, error) {
	card, err := tx.FindCard(ctx, orgID, cardID)
	if err != nil {
		return nil, err
	}
	customer, err := tx.LockCustomer(ctx, orgID, card.CustomerID)
	if err != nil {
		return nil, err
	}
	// 拿到锁之后再读一次
	if card, err = tx.FindCard(ctx, orgID, cardID); err != nil {
		return nil, err
	}
	promo, err := tx.FindPromotion(ctx, orgID, card.PromotionID)
	if err != nil {
		return nil, err
	}
	return &cardContext{card: card, promo: promo, customer: customer}, nil
}

// RedeemCard 员工确认兑换：卡片必须已完成且未兑换，追加 REDEEM(0)
func (s *StampService) RedeemCard(ctx context.Context, cardID uint) (*domain.StampCard, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.RedeemCard", trace.WithAttributes(attribute.Int("card.id", int(cardID))))
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
	var cc *cardContext
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if cc, err = s.lockCard(ctx, tx, org.ID, cardID); err != nil {
			return err
		}
		if err := cc.card.Redeem(); err != nil {
			return err
		}
		if err := tx.SaveCard(ctx, cc.card); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &domain.StampTransaction{
			OrganizationID: org.ID,
			CardID:         cc.card.ID,
			Action:         domain.ActionRedeem,
			Quantity:       0,
			PerformedBy:    who.ActorID(),
			CreatedAt:      now,
		})
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.auditor.Record(ctx, auditdomain.ActionStampRedeem, "stamp_card",
		fmt.Sprintf("Premio canjeado: %s para %s", cc.promo.RewardDescription, cc.customer.FullName()), &cc.customer.ID)
	s.notify(ctx, org, cc.card, cc.promo, cc.customer)
	return cc.card, nil
}

// ResetCard 清零进行中的卡片，仅店主和超级管理员可用
func (s *StampService) ResetCard(ctx context.Context, cardID uint) (*domain.StampCard, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.ResetCard", trace.WithAttributes(attribute.Int("card.id", int(cardID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	who, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if !who.Privileged() {
		return nil, domain.ErrPermissionDenied
	}

	now := s.clock()
	var (
		cc       *cardContext
		previous int
	)
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if cc, err = s.lockCard(ctx, tx, org.ID, cardID); err != nil {
			return err
		}
		if previous, err = cc.card.Reset(); err != nil {
			return err
		}
		if err := tx.SaveCard(ctx, cc.card); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &domain.StampTransaction{
			OrganizationID: org.ID,
			CardID:         cc.card.ID,
			Action:         domain.ActionReset,
			Quantity:       previous,
			PerformedBy:    who.ActorID(),
			CreatedAt:      now,
		})
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.auditor.Record(ctx, auditdomain.ActionStampReset, "stamp_card",
		fmt.Sprintf("Tarjeta reiniciada (%d sellos) de %s", previous, cc.customer.FullName()), &cc.customer.ID)
	s.notify(ctx, org, cc.card, cc.promo, cc.customer)
	return cc.card, nil
}

// UndoTransaction 撤销窗口期内的一条 ADD / REDEEM，流水被删除并写审计
func (s *StampService) UndoTransaction(ctx context.Context, txID uint) (*domain.StampCard, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.UndoTransaction", trace.WithAttributes(attribute.Int("stamp_tx.id", int(txID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := actor(ctx); err != nil {
		return nil, err
	}

	now := s.clock()
	var (
		cc    *cardContext
		entry *domain.StampTransaction
	)
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if entry, err = tx.FindTransaction(ctx, org.ID, txID); err != nil {
			return err
		}
		if err := entry.Undoable(now, s.undoWindow); err != nil {
			return err
		}
		if cc, err = s.lockCard(ctx, tx, org.ID, entry.CardID); err != nil {
			return err
		}
		switch entry.Action {
		case domain.ActionAdd:
			if err := s.revertAdd(ctx, tx, org, cc, entry.Quantity, now); err != nil {
				return err
			}
		case domain.ActionRedeem:
			if err := cc.card.RevertRedeem(); err != nil {
				return err
			}
		}
		if err := tx.SaveCard(ctx, cc.card); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, org.ID, entry.ID)
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.auditor.Record(ctx, auditdomain.ActionStampUndo, "stamp_card",
		fmt.Sprintf("Se deshizo %s de %d sello(s) de %s", entry.Action, entry.Quantity, cc.customer.FullName()), &cc.customer.ID)
	s.notify(ctx, org, cc.card, cc.promo, cc.customer)
	return cc.card, nil
}

// revertAdd 回退后若变回进行中，同一顾客同一活动不能已有另一张未过期的进行中卡片。
// 过期的卡在加章时已被视为不存在，这里同样忽略。
func (s *StampService) revertAdd(ctx context.Context, tx domain.Store, org *tenant.Organization, cc *cardContext, qty int, now time.Time) error {
	wasOpen := cc.card.IsOpen()
	if err := cc.card.RevertAdd(qty, cc.promo.TotalStampsNeeded); err != nil {
		return err
	}
	if wasOpen || !cc.card.IsOpen() {
		return nil
	}
	others, err := tx.OtherOpenCards(ctx, org.ID, cc.card.CustomerID, cc.card.PromotionID, cc.card.ID)
	if err != nil {
		return err
	}
	for _, other := range others {
		if !other.IsExpired(now, org.StampsExpirationMonths) {
			return errors.Wrap(domain.ErrInvalidState, "another open card exists for this promotion")
		}
	}
	return nil
}

// RequestRedemption 顾客申请兑换自己的已完成卡片。卡片不存在或不属于本人一律 ErrPermissionDenied。
func (s *StampService) RequestRedemption(ctx context.Context, cardID uint) (*domain.StampCard, error) {
	ctx, span := s.tracer.Start(ctx, "stamps.RequestRedemption", trace.WithAttributes(attribute.Int("card.id", int(cardID))))
	defer span.End()

	org, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	me, err := s.currentCustomer(ctx, s.store, org.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var card *domain.StampCard
	err = s.store.Transaction(ctx, func(tx domain.Store) error {
		if _, err := tx.LockCustomer(ctx, org.ID, me.ID); err != nil {
			return err
		}
		card, err = tx.FindCard(ctx, org.ID, cardID)
		if errors.Is(err, domain.ErrCardNotFound) || (err == nil && card.CustomerID != me.ID) {
			return domain.ErrPermissionDenied
		}
		if err != nil {
			return err
		}
		if err := card.RequestRedemption(now); err != nil {
			return err
		}
		return tx.SaveCard(ctx, card)
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Uint("card_id", card.ID).Uint("customer_id", me.ID).Msg("redemption requested")
	return card, nil
}

// currentCustomer 顾客身份优先用 customer_id，否则按邮箱在租户内查找
func (s *StampService) currentCustomer(ctx context.Context, store domain.Store, orgID uint) (*domain.CustomerInfo, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return nil, domain.ErrPermissionDenied
	}
	if id.CustomerID != 0 {
		c, err := store.FindCustomer(ctx, orgID, id.CustomerID)
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return nil, domain.ErrPermissionDenied
		}
		return c, err
	}
	c, err := store.FindCustomerByEmail(ctx, orgID, strings.ToLower(id.Email))
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return nil, domain.ErrPermissionDenied
	}
	return c, err
}
