package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/auth"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	customerinfra "loyaltyhub/internal/service/customer/infrastructure"
	notificationdomain "loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/service/stamps/infrastructure"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/testutil"
)

type recordedAudit struct {
	action     auditdomain.Action
	customerID *uint
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (a *fakeAuditor) Record(_ context.Context, action auditdomain.Action, _, _ string, customerID *uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, recordedAudit{action: action, customerID: customerID})
}

func (a *fakeAuditor) count(action auditdomain.Action) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.action == action {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	states []notificationdomain.CardState
}

func (n *fakeNotifier) CardChanged(_ context.Context, _ *tenant.Organization, card notificationdomain.CardState, _ notificationdomain.Recipient) {
	n.states = append(n.states, card)
}

// 2026-03-10 是周二
var base = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	t        *testing.T
	db       *gorm.DB
	org      *tenant.Organization
	svc      *StampService
	audit    *fakeAuditor
	notifier *fakeNotifier
	promo    *domain.StampPromotion
	customer uint
	now      time.Time
}

func newFixture(t *testing.T, needed int, mutate func(o *tenant.Organization)) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	f := &fixture{
		t:        t,
		db:       db,
		org:      testutil.CreateOrg(t, db, "Barbería Test", mutate),
		audit:    &fakeAuditor{},
		notifier: &fakeNotifier{},
		now:      base,
	}
	f.svc = NewStampService(infrastructure.NewGormStore(db), f.notifier, f.audit, nil, noop.NewTracerProvider().Tracer("test"), Options{})
	f.svc.SetClock(func() time.Time { return f.now })

	f.promo = &domain.StampPromotion{Name: "Corte gratis", TotalStampsNeeded: needed, RewardDescription: "1 corte", IsActive: true}
	if err := f.svc.CreatePromotion(f.ctx(auth.RoleOwner), f.promo); err != nil {
		t.Fatalf("create promotion: %v", err)
	}
	f.customer = f.createCustomer("Ana", "999111222")
	return f
}

func (f *fixture) createCustomer(name, phone string) uint {
	f.t.Helper()
	m := &customerinfra.CustomerModel{OrganizationID: f.org.ID, FirstName: name, LastName: "Test", Phone: phone, IsActive: true}
	if err := f.db.Create(m).Error; err != nil {
		f.t.Fatalf("create customer: %v", err)
	}
	return m.ID
}

func (f *fixture) ctx(role auth.Role) context.Context {
	return testutil.StaffContext(f.org, role, 7)
}

func (f *fixture) add(role auth.Role, qty int) (*AddStampsResult, error) {
	return f.svc.AddStamps(f.ctx(role), AddStampsCommand{CustomerID: f.customer, Quantity: qty})
}

func (f *fixture) mustAdd(role auth.Role, qty int) *AddStampsResult {
	f.t.Helper()
	res, err := f.add(role, qty)
	if err != nil {
		f.t.Fatalf("add stamps: %v", err)
	}
	return res
}

func (f *fixture) countTx(action domain.Action) int64 {
	f.t.Helper()
	var n int64
	if err := f.db.Model(&infrastructure.StampTransactionModel{}).Where("action = ?", string(action)).Count(&n).Error; err != nil {
		f.t.Fatalf("count transactions: %v", err)
	}
	return n
}

func (f *fixture) sumAdds(cardID uint) int {
	f.t.Helper()
	var sum int
	err := f.db.Model(&infrastructure.StampTransactionModel{}).
		Where("card_id = ? AND action = ?", cardID, string(domain.ActionAdd)).
		Select("COALESCE(SUM(quantity), 0)").Scan(&sum).Error
	if err != nil {
		f.t.Fatalf("sum adds: %v", err)
	}
	return sum
}

func TestAddStampsSingle(t *testing.T) {
	f := newFixture(t, 10, nil)

	res := f.mustAdd(auth.RoleStaff, 1)
	if res.Card.CurrentStamps != 1 {
		t.Fatalf("current stamps = %d, want 1", res.Card.CurrentStamps)
	}
	if res.Quantity != 1 || res.DoubleStamp {
		t.Errorf("quantity = %d double = %v, want 1 / false", res.Quantity, res.DoubleStamp)
	}
	if res.Transaction.Action != domain.ActionAdd || res.Transaction.Quantity != 1 {
		t.Errorf("transaction = %+v, want ADD(1)", res.Transaction)
	}
	if got := f.countTx(domain.ActionAdd); got != 1 {
		t.Errorf("ADD rows = %d, want 1", got)
	}
	if got := f.audit.count(auditdomain.ActionStampAdd); got != 1 {
		t.Errorf("audit STAMP_ADD = %d, want 1", got)
	}
	if len(f.notifier.states) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.states))
	}
}

func TestLedgerMatchesCurrentStamps(t *testing.T) {
	f := newFixture(t, 20, nil)

	var cardID uint
	for _, qty := range []int{1, 3, 2, 4} {
		res := f.mustAdd(auth.RoleOwner, qty)
		cardID = res.Card.ID
		if got := f.sumAdds(cardID); got != res.Card.CurrentStamps {
			t.Fatalf("sum of ADD = %d, current = %d", got, res.Card.CurrentStamps)
		}
	}
	if got := f.sumAdds(cardID); got != 10 {
		t.Errorf("sum of ADD = %d, want 10", got)
	}
}

func TestCompletionWithOvershoot(t *testing.T) {
	f := newFixture(t, 5, nil)

	res := f.mustAdd(auth.RoleOwner, 4)
	if res.Card.IsCompleted || res.JustCompleted {
		t.Fatalf("card completed at 4/5")
	}
	res = f.mustAdd(auth.RoleOwner, 3)
	if !res.Card.IsCompleted || !res.JustCompleted {
		t.Fatalf("card not completed at %d/5", res.Card.CurrentStamps)
	}
	if res.Card.CurrentStamps != 7 {
		t.Errorf("current = %d, want overshoot 7", res.Card.CurrentStamps)
	}

	// 已完成的卡不再加章，下一次开新卡
	next := f.mustAdd(auth.RoleOwner, 1)
	if next.Card.ID == res.Card.ID {
		t.Fatalf("stamp added to a completed card")
	}
	if next.Card.CurrentStamps != 1 {
		t.Errorf("new card current = %d, want 1", next.Card.CurrentStamps)
	}
}

func TestPrivilegedAddsFillCard(t *testing.T) {
	f := newFixture(t, 5, nil)

	var res *AddStampsResult
	for i := 0; i < 5; i++ {
		res = f.mustAdd(auth.RoleOwner, 1)
	}
	if !res.Card.IsCompleted || res.Card.CurrentStamps != 5 {
		t.Fatalf("card = %d/5 completed=%v, want 5/5 completed", res.Card.CurrentStamps, res.Card.IsCompleted)
	}
	if got := f.countTx(domain.ActionAdd); got != 5 {
		t.Errorf("ADD rows = %d, want 5", got)
	}
	var cards int64
	f.db.Model(&infrastructure.StampCardModel{}).Count(&cards)
	if cards != 1 {
		t.Errorf("cards = %d, want 1", cards)
	}
}

func TestAntiFraudLock(t *testing.T) {
	f := newFixture(t, 10, nil)
	if f.org.LockDuration() != 2*time.Hour {
		t.Fatalf("lock = %v, want default 2h", f.org.LockDuration())
	}

	f.mustAdd(auth.RoleStaff, 1)
	f.now = base.Add(10 * time.Minute)

	_, err := f.add(auth.RoleStaff, 1)
	var tooSoon *domain.TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("err = %v, want TooSoonError", err)
	}
	if !errors.Is(err, domain.ErrTooSoon) {
		t.Errorf("err does not unwrap to ErrTooSoon")
	}
	if got := tooSoon.MinutesLeft(); got != 110 {
		t.Errorf("minutes left = %d, want 110", got)
	}
	if got := f.countTx(domain.ActionAdd); got != 1 {
		t.Errorf("ADD rows = %d, want 1", got)
	}

	// 店主不受限制
	if _, err := f.add(auth.RoleOwner, 1); err != nil {
		t.Errorf("owner add during lock: %v", err)
	}

	// 锁定按所有卡片上最近一次 ADD 计算，包含店主加的章
	f.now = base.Add(2 * time.Hour)
	if _, err := f.add(auth.RoleStaff, 1); !errors.Is(err, domain.ErrTooSoon) {
		t.Errorf("err = %v, want ErrTooSoon 10 minutes before the owner's lock ends", err)
	}
	f.now = base.Add(4 * time.Hour)
	if _, err := f.add(auth.RoleStaff, 1); err != nil {
		t.Errorf("staff add after lock expired: %v", err)
	}
}

func TestLockDisabled(t *testing.T) {
	f := newFixture(t, 10, func(o *tenant.Organization) {
		o.StampLockHours, o.StampLockMinutes = 0, 0
	})
	f.mustAdd(auth.RoleStaff, 1)
	if _, err := f.add(auth.RoleStaff, 1); err != nil {
		t.Fatalf("second add with lock disabled: %v", err)
	}
}

func TestDoubleStampDay(t *testing.T) {
	f := newFixture(t, 10, func(o *tenant.Organization) {
		o.DoubleStampDays = tenant.Weekdays(0).With(time.Tuesday)
	})

	res := f.mustAdd(auth.RoleOwner, 1)
	if !res.DoubleStamp || res.Card.CurrentStamps != 2 || res.Transaction.Quantity != 2 {
		t.Fatalf("double stamp not applied: %+v current=%d", res.Transaction, res.Card.CurrentStamps)
	}
	// 批量加章不翻倍
	res = f.mustAdd(auth.RoleOwner, 3)
	if res.DoubleStamp || res.Card.CurrentStamps != 5 {
		t.Errorf("multi-stamp add doubled: current=%d", res.Card.CurrentStamps)
	}
}

func TestAddStampsValidation(t *testing.T) {
	f := newFixture(t, 10, nil)

	tests := []struct {
		name string
		ctx  context.Context
		cmd  AddStampsCommand
		want error
	}{
		{"zero quantity", f.ctx(auth.RoleStaff), AddStampsCommand{CustomerID: f.customer}, domain.ErrInvalidQuantity},
		{"unknown customer", f.ctx(auth.RoleStaff), AddStampsCommand{CustomerID: 999, Quantity: 1}, domain.ErrCustomerNotFound},
		{"customer role", f.ctx(auth.RoleCustomer), AddStampsCommand{CustomerID: f.customer, Quantity: 1}, domain.ErrPermissionDenied},
		{"no tenant", context.Background(), AddStampsCommand{CustomerID: f.customer, Quantity: 1}, tenant.ErrNoTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddStamps(tt.ctx, tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := f.countTx(domain.ActionAdd); got != 0 {
		t.Errorf("ADD rows = %d, want 0", got)
	}
}

func TestInactivePromotion(t *testing.T) {
	f := newFixture(t, 10, nil)
	end := base.AddDate(0, 0, -1)
	f.promo.EndDate = &end
	if err := f.svc.UpdatePromotion(f.ctx(auth.RoleOwner), f.promo); err != nil {
		t.Fatalf("update promotion: %v", err)
	}
	if _, err := f.add(auth.RoleOwner, 1); !errors.Is(err, domain.ErrPromotionInactive) {
		t.Fatalf("err = %v, want ErrPromotionInactive", err)
	}
}

func TestRedeemCard(t *testing.T) {
	f := newFixture(t, 3, nil)
	res := f.mustAdd(auth.RoleOwner, 3)

	card, err := f.svc.RedeemCard(f.ctx(auth.RoleStaff), res.Card.ID)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !card.IsRedeemed {
		t.Errorf("card not marked redeemed")
	}
	var redeem infrastructure.StampTransactionModel
	if err := f.db.Where("action = ?", string(domain.ActionRedeem)).First(&redeem).Error; err != nil {
		t.Fatalf("load REDEEM row: %v", err)
	}
	if redeem.Quantity != 0 || redeem.CardID != card.ID {
		t.Errorf("REDEEM row = %+v, want quantity 0 on card %d", redeem, card.ID)
	}

	if _, err := f.svc.RedeemCard(f.ctx(auth.RoleStaff), card.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second redeem err = %v, want ErrInvalidState", err)
	}
	if got := f.countTx(domain.ActionRedeem); got != 1 {
		t.Errorf("REDEEM rows = %d, want 1", got)
	}
}

func TestRedeemIncompleteCardWritesNothing(t *testing.T) {
	f := newFixture(t, 5, nil)
	res := f.mustAdd(auth.RoleOwner, 2)

	_, err := f.svc.RedeemCard(f.ctx(auth.RoleStaff), res.Card.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if got := f.countTx(domain.ActionRedeem); got != 0 {
		t.Errorf("REDEEM rows = %d, want 0", got)
	}
	var m infrastructure.StampCardModel
	f.db.First(&m, res.Card.ID)
	if m.IsRedeemed || m.CurrentStamps != 2 {
		t.Errorf("card changed: redeemed=%v current=%d", m.IsRedeemed, m.CurrentStamps)
	}
	if got := f.audit.count(auditdomain.ActionStampRedeem); got != 0 {
		t.Errorf("audit STAMP_REDEEM = %d, want 0", got)
	}
}

func TestResetCard(t *testing.T) {
	f := newFixture(t, 5, nil)
	res := f.mustAdd(auth.RoleOwner, 4)

	if _, err := f.svc.ResetCard(f.ctx(auth.RoleStaff), res.Card.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("staff reset err = %v, want ErrPermissionDenied", err)
	}
	card, err := f.svc.ResetCard(f.ctx(auth.RoleOwner), res.Card.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if card.CurrentStamps != 0 || card.IsCompleted {
		t.Errorf("card after reset = %d completed=%v", card.CurrentStamps, card.IsCompleted)
	}
	var reset infrastructure.StampTransactionModel
	if err := f.db.Where("action = ?", string(domain.ActionReset)).First(&reset).Error; err != nil {
		t.Fatalf("load RESET row: %v", err)
	}
	if reset.Quantity != 4 {
		t.Errorf("RESET quantity = %d, want previous count 4", reset.Quantity)
	}
}

func TestUndoWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"within 23h", 23 * time.Hour, nil},
		{"after 25h", 25 * time.Hour, domain.ErrUndoWindowExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10, nil)
			res := f.mustAdd(auth.RoleStaff, 1)

			f.now = base.Add(tt.elapsed)
			card, err := f.svc.UndoTransaction(f.ctx(auth.RoleStaff), res.Transaction.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if got := f.countTx(domain.ActionAdd); got != 1 {
					t.Errorf("ADD rows = %d, want 1", got)
				}
				return
			}
			if card.CurrentStamps != 0 {
				t.Errorf("current after undo = %d, want 0", card.CurrentStamps)
			}
			if got := f.countTx(domain.ActionAdd); got != 0 {
				t.Errorf("ADD rows = %d, want 0", got)
			}
			if got := f.audit.count(auditdomain.ActionStampUndo); got != 1 {
				t.Errorf("audit STAMP_UNDO = %d, want 1", got)
			}
		})
	}
}

func TestUndoAddReopensCompletedCard(t *testing.T) {
	f := newFixture(t, 3, nil)
	f.mustAdd(auth.RoleOwner, 2)
	last := f.mustAdd(auth.RoleOwner, 1)
	if !last.Card.IsCompleted {
		t.Fatalf("card not completed")
	}

	card, err := f.svc.UndoTransaction(f.ctx(auth.RoleOwner), last.Transaction.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if card.IsCompleted || card.CurrentStamps != 2 {
		t.Errorf("card = %d completed=%v, want 2 open", card.CurrentStamps, card.IsCompleted)
	}
	if got := f.sumAdds(card.ID); got != card.CurrentStamps {
		t.Errorf("ledger %d != current %d", got, card.CurrentStamps)
	}
}

func TestUndoAddRejectedWhenAnotherOpenCardExists(t *testing.T) {
	f := newFixture(t, 2, nil)
	done := f.mustAdd(auth.RoleOwner, 2)
	f.mustAdd(auth.RoleOwner, 1) // 新开的卡

	if _, err := f.svc.UndoTransaction(f.ctx(auth.RoleOwner), done.Transaction.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestUndoRedeem(t *testing.T) {
	f := newFixture(t, 2, nil)
	res := f.mustAdd(auth.RoleOwner, 2)
	if _, err := f.svc.RedeemCard(f.ctx(auth.RoleOwner), res.Card.ID); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	var redeem infrastructure.StampTransactionModel
	f.db.Where("action = ?", string(domain.ActionRedeem)).First(&redeem)

	card, err := f.svc.UndoTransaction(f.ctx(auth.RoleOwner), redeem.ID)
	if err != nil {
		t.Fatalf("undo redeem: %v", err)
	}
	if card.IsRedeemed || !card.IsCompleted {
		t.Errorf("card redeemed=%v completed=%v, want completed and not redeemed", card.IsRedeemed, card.IsCompleted)
	}
}

func TestRequestRedemption(t *testing.T) {
	f := newFixture(t, 2, nil)
	res := f.mustAdd(auth.RoleOwner, 2)
	other := f.createCustomer("Luis", "988777666")

	customerCtx := func(id uint) context.Context {
		ctx := tenant.WithOrganization(context.Background(), f.org)
		return auth.WithIdentity(ctx, auth.Identity{UserID: 50, OrganizationID: f.org.ID, Role: auth.RoleCustomer, CustomerID: id})
	}

	if _, err := f.svc.RequestRedemption(customerCtx(other), res.Card.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("foreign card err = %v, want ErrPermissionDenied", err)
	}
	card, err := f.svc.RequestRedemption(customerCtx(f.customer), res.Card.ID)
	if err != nil {
		t.Fatalf("request redemption: %v", err)
	}
	if !card.RedemptionRequested || card.RequestedAt == nil {
		t.Errorf("redemption not flagged: %+v", card)
	}
}

func monthlyExpiry(o *tenant.Organization) { o.StampsExpirationMonths = 1 }

func TestExpiredOpenCardStartsNewCard(t *testing.T) {
	f := newFixture(t, 5, monthlyExpiry)
	old := f.mustAdd(auth.RoleOwner, 1)

	f.now = base.AddDate(0, 2, 0)
	res := f.mustAdd(auth.RoleOwner, 1)
	if res.Card.ID == old.Card.ID {
		t.Fatalf("stamp added to expired card %d", old.Card.ID)
	}
	if res.Card.CurrentStamps != 1 {
		t.Errorf("new card current = %d, want 1", res.Card.CurrentStamps)
	}
	var m infrastructure.StampCardModel
	f.db.First(&m, old.Card.ID)
	if m.CurrentStamps != 1 || m.IsCompleted {
		t.Errorf("expired card changed: current=%d completed=%v", m.CurrentStamps, m.IsCompleted)
	}
}

func TestUndoAddIgnoresExpiredOpenCard(t *testing.T) {
	f := newFixture(t, 2, monthlyExpiry)
	f.mustAdd(auth.RoleOwner, 1)

	f.now = base.AddDate(0, 2, 0)
	f.mustAdd(auth.RoleOwner, 1)
	last := f.mustAdd(auth.RoleOwner, 1)
	if !last.Card.IsCompleted {
		t.Fatalf("card not completed: %d/2", last.Card.CurrentStamps)
	}

	card, err := f.svc.UndoTransaction(f.ctx(auth.RoleOwner), last.Transaction.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if card.IsCompleted || card.CurrentStamps != 1 {
		t.Errorf("card = %d completed=%v, want 1 open", card.CurrentStamps, card.IsCompleted)
	}
}

func TestListingsHideExpiredCards(t *testing.T) {
	f := newFixture(t, 2, monthlyExpiry)
	f.mustAdd(auth.RoleOwner, 2)

	meCtx := auth.WithIdentity(tenant.WithOrganization(context.Background(), f.org),
		auth.Identity{UserID: 50, OrganizationID: f.org.ID, Role: auth.RoleCustomer, CustomerID: f.customer})

	listed := func() (board, mine, public int) {
		t.Helper()
		b, err := f.svc.Board(f.ctx(auth.RoleStaff), "")
		if err != nil {
			t.Fatalf("board: %v", err)
		}
		m, err := f.svc.MyCards(meCtx)
		if err != nil {
			t.Fatalf("my cards: %v", err)
		}
		p, err := f.svc.PublicCards(tenant.WithOrganization(context.Background(), f.org), "999-111-222")
		if err != nil {
			t.Fatalf("public cards: %v", err)
		}
		return len(b.Groups), len(m), len(p)
	}

	if b, m, p := listed(); b != 1 || m != 1 || p != 1 {
		t.Fatalf("before expiry board=%d mine=%d public=%d, want 1/1/1", b, m, p)
	}
	f.now = base.AddDate(0, 3, 0)
	if b, m, p := listed(); b != 0 || m != 0 || p != 0 {
		t.Errorf("after expiry board=%d mine=%d public=%d, want 0/0/0", b, m, p)
	}
}
