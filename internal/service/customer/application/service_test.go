package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/auth"
	auditdomain "loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/customer/domain"
	"loyaltyhub/internal/service/customer/infrastructure"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/testutil"
)

// countingGate 顾客数达到 max 后拒绝，max 为 0 不限制
type countingGate struct {
	db        *gorm.DB
	max       int64
	refreshes int
}

func (g *countingGate) CheckLimit(_ context.Context, orgID uint, _ gatedomain.LimitType) error {
	if g.max == 0 {
		return nil
	}
	var n int64
	g.db.Model(&infrastructure.CustomerModel{}).Where("organization_id = ?", orgID).Count(&n)
	if n >= g.max {
		return &gatedomain.LimitExceededError{Type: gatedomain.LimitCustomers, Usage: int(n), Limit: int(g.max)}
	}
	return nil
}

func (g *countingGate) RefreshUsage(context.Context, uint, gatedomain.LimitType) error {
	g.refreshes++
	return nil
}

type memAuditor struct{ actions []auditdomain.Action }

func (a *memAuditor) Record(_ context.Context, action auditdomain.Action, _, _ string, _ *uint) {
	a.actions = append(a.actions, action)
}

type fixture struct {
	db    *gorm.DB
	org   *tenant.Organization
	gate  *countingGate
	audit *memAuditor
	svc   *CustomerService
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	f := &fixture{db: db, org: testutil.CreateOrg(t, db, "Barbería Clientes", nil), gate: &countingGate{db: db}, audit: &memAuditor{}}
	f.svc = NewCustomerService(infrastructure.NewGormRepository(db), f.gate, f.audit, noop.NewTracerProvider().Tracer("test"))
	f.ctx = testutil.StaffContext(f.org, auth.RoleStaff, 7)
	return f
}

func ptr(v int) *int { return &v }

func TestCreateNormalizes(t *testing.T) {
	f := newFixture(t)
	c := &domain.Customer{FirstName: "  Ana ", LastName: "Pérez", Phone: "+51 999-111-222", Email: " ANA@Example.com"}
	if err := f.svc.Create(f.ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := f.svc.Get(f.ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FirstName != "Ana" || got.Phone != "51999111222" || got.Email != "ana@example.com" || !got.IsActive {
		t.Fatalf("customer = %+v", got)
	}
	if f.gate.refreshes != 1 || len(f.audit.actions) != 1 || f.audit.actions[0] != auditdomain.ActionCreate {
		t.Fatalf("refresh %d audit %v", f.gate.refreshes, f.audit.actions)
	}
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Create(f.ctx, &domain.Customer{FirstName: "Ana", Phone: "999111222"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tests := []struct {
		name string
		c    *domain.Customer
		want error
	}{
		{"duplicate phone", &domain.Customer{FirstName: "Otra", Phone: "999 111 222"}, domain.ErrDuplicatePhone},
		{"missing name", &domain.Customer{FirstName: " "}, domain.ErrInvalidCustomer},
		{"bad birth month", &domain.Customer{FirstName: "X", BirthDay: ptr(3), BirthMonth: ptr(13)}, domain.ErrInvalidCustomer},
		{"day without month", &domain.Customer{FirstName: "X", BirthDay: ptr(3)}, domain.ErrInvalidCustomer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.svc.Create(f.ctx, tt.c); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateRespectsCustomerLimit(t *testing.T) {
	f := newFixture(t)
	f.gate.max = 1
	if err := f.svc.Create(f.ctx, &domain.Customer{FirstName: "Ana"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	err := f.svc.Create(f.ctx, &domain.Customer{FirstName: "Luis"})
	if !errors.Is(err, gatedomain.ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}
	var n int64
	f.db.Model(&infrastructure.CustomerModel{}).Count(&n)
	if n != 1 {
		t.Fatalf("customers = %d, want 1", n)
	}
}

func TestUpdatePhoneConflict(t *testing.T) {
	f := newFixture(t)
	ana := &domain.Customer{FirstName: "Ana", Phone: "111"}
	luis := &domain.Customer{FirstName: "Luis", Phone: "222"}
	_ = f.svc.Create(f.ctx, ana)
	_ = f.svc.Create(f.ctx, luis)

	luis.Phone = "111"
	if err := f.svc.Update(f.ctx, luis); !errors.Is(err, domain.ErrDuplicatePhone) {
		t.Fatalf("err = %v, want ErrDuplicatePhone", err)
	}
	ana.Notes = "prefiere tijera"
	if err := f.svc.Update(f.ctx, ana); err != nil {
		t.Fatalf("update keeping own phone: %v", err)
	}
	ghost := &domain.Customer{ID: 9999, FirstName: "Nadie"}
	if err := f.svc.Update(f.ctx, ghost); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
}

func TestFindOrCreateByPhone(t *testing.T) {
	f := newFixture(t)
	c, created, err := f.svc.FindOrCreateByPhone(f.ctx, "+51 988 777 666", "Eva", "")
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	again, created, err := f.svc.FindOrCreateByPhone(f.ctx, "51988777666", "Otro", "Nombre")
	if err != nil || created || again.ID != c.ID || again.FirstName != "Eva" {
		t.Fatalf("second call: %+v created=%v err=%v", again, created, err)
	}
	if _, _, err := f.svc.FindOrCreateByPhone(f.ctx, "sin número", "Eva", ""); !errors.Is(err, domain.ErrInvalidCustomer) {
		t.Fatalf("err = %v, want ErrInvalidCustomer", err)
	}
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)
	other := testutil.CreateOrg(t, f.db, "Otra Barbería", nil)
	for _, name := range []string{"Ana", "Andrés", "Luis"} {
		if err := f.svc.Create(f.ctx, &domain.Customer{FirstName: name}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.svc.Create(testutil.StaffContext(other, auth.RoleStaff, 8), &domain.Customer{FirstName: "Ana"}); err != nil {
		t.Fatal(err)
	}

	list, total, err := f.svc.List(f.ctx, domain.Filter{Query: "An"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("filtered list = %d/%d, want 2", len(list), total)
	}

	if err := f.svc.Delete(testutil.StaffContext(other, auth.RoleStaff, 8), list[0].ID); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("cross-tenant delete err = %v", err)
	}
	if err := f.svc.Delete(f.ctx, list[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, total, _ := f.svc.List(f.ctx, domain.Filter{}); total != 2 {
		t.Fatalf("total after delete = %d", total)
	}
}

func TestBirthdaysToday(t *testing.T) {
	f := newFixture(t)
	f.svc.now = func() time.Time { return time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC) }
	_ = f.svc.Create(f.ctx, &domain.Customer{FirstName: "Ana", BirthDay: ptr(14), BirthMonth: ptr(2)})
	_ = f.svc.Create(f.ctx, &domain.Customer{FirstName: "Luis", BirthDay: ptr(15), BirthMonth: ptr(2)})

	got, err := f.svc.BirthdaysToday(f.ctx)
	if err != nil {
		t.Fatalf("birthdays: %v", err)
	}
	if len(got) != 1 || got[0].FirstName != "Ana" {
		t.Fatalf("birthdays = %+v", got)
	}
}
