package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/auth"
	accountinfra "loyaltyhub/internal/service/account/infrastructure"
	campaigninfra "loyaltyhub/internal/service/campaign/infrastructure"
	customerinfra "loyaltyhub/internal/service/customer/infrastructure"
	"loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/service/gate/infrastructure"
	"loyaltyhub/internal/testutil"
)

func newGate(t *testing.T) (*GateService, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	svc := NewGateService(infrastructure.NewGormRepository(db), infrastructure.NewTableUsageCounter(db), noop.NewTracerProvider().Tracer("test"))
	return svc, db
}

func TestHasFeature(t *testing.T) {
	svc, db := newGate(t)
	org := testutil.CreateOrg(t, db, "Barbería Gate", nil)
	ctx := context.Background()
	staff := auth.Identity{UserID: 1, OrganizationID: org.ID, Role: auth.RoleStaff}
	root := auth.Identity{UserID: 2, Role: auth.RoleSuperuser}

	check := func(id auth.Identity, key string, want bool) {
		t.Helper()
		got, err := svc.HasFeature(ctx, id, org.ID, key)
		if err != nil {
			t.Fatalf("has feature: %v", err)
		}
		if got != want {
			t.Errorf("HasFeature(%s, %s) = %v, want %v", id.Role, key, got, want)
		}
	}

	check(staff, domain.FeatureStamps, false)
	check(root, domain.FeatureStamps, true)

	if err := svc.SetFeature(ctx, org.ID, domain.FeatureStamps, true, ""); err != nil {
		t.Fatalf("enable: %v", err)
	}
	check(staff, domain.FeatureStamps, true)
	// 子功能独立于父功能
	check(staff, domain.FeatureCustomersExport, false)

	if err := svc.SetFeature(ctx, org.ID, domain.FeatureStamps, false, "plan downgrade"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	check(staff, domain.FeatureStamps, false)

	flags, err := svc.Features(ctx, org.ID)
	if err != nil || len(flags) != 1 || flags[0].Notes != "plan downgrade" || flags[0].EnabledAt != nil {
		t.Fatalf("features = %+v, %v", flags, err)
	}

	if err := svc.SetFeature(ctx, org.ID, "teleport", true, ""); !errors.Is(err, domain.ErrUnknownFeature) {
		t.Errorf("err = %v, want ErrUnknownFeature", err)
	}
}

func TestCheckLimit(t *testing.T) {
	svc, db := newGate(t)
	org := testutil.CreateOrg(t, db, "Barbería Límites", nil)
	ctx := context.Background()

	// 没有配置视为不限
	if err := svc.CheckLimit(ctx, org.ID, domain.LimitCustomers); err != nil {
		t.Fatalf("unconfigured limit: %v", err)
	}

	for _, name := range []string{"Ana", "Beto"} {
		if err := db.Create(&customerinfra.CustomerModel{OrganizationID: org.ID, FirstName: name, IsActive: true}).Error; err != nil {
			t.Fatalf("create customer: %v", err)
		}
	}
	if err := svc.SetLimit(ctx, domain.UsageLimit{OrganizationID: org.ID, Type: domain.LimitCustomers, Value: 2, Enforce: true}); err != nil {
		t.Fatalf("set limit: %v", err)
	}

	limits, err := svc.Limits(ctx, org.ID)
	if err != nil || len(limits) != 1 {
		t.Fatalf("limits = %v, %v", limits, err)
	}
	if limits[0].CurrentUsage != 2 || limits[0].WarningThreshold != domain.DefaultWarningThreshold {
		t.Errorf("unexpected limit %+v", limits[0])
	}

	err = svc.CheckLimit(ctx, org.ID, domain.LimitCustomers)
	var exceeded *domain.LimitExceededError
	if !errors.As(err, &exceeded) || !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("err = %v, want LimitExceededError", err)
	}
	if exceeded.Usage != 2 || exceeded.Limit != 2 {
		t.Errorf("exceeded = %+v", exceeded)
	}

	if err := svc.SetLimit(ctx, domain.UsageLimit{OrganizationID: org.ID, Type: domain.LimitCustomers, Value: 2}); err != nil {
		t.Fatalf("relax limit: %v", err)
	}
	if err := svc.CheckLimit(ctx, org.ID, domain.LimitCustomers); err != nil {
		t.Errorf("unenforced limit should pass, got %v", err)
	}

	if err := svc.SetLimit(ctx, domain.UsageLimit{OrganizationID: org.ID, Type: domain.LimitCustomers, Value: domain.Unlimited, Enforce: true}); err != nil {
		t.Fatalf("unlimited: %v", err)
	}
	if err := svc.CheckLimit(ctx, org.ID, domain.LimitCustomers); err != nil {
		t.Errorf("unlimited should pass, got %v", err)
	}

	if err := svc.SetLimit(ctx, domain.UsageLimit{OrganizationID: org.ID, Type: "seats"}); !errors.Is(err, domain.ErrUnknownLimit) {
		t.Errorf("err = %v, want ErrUnknownLimit", err)
	}
}

func TestUsageLimitMath(t *testing.T) {
	tests := []struct {
		limit    domain.UsageLimit
		exceeded bool
		near     bool
	}{
		{domain.UsageLimit{Value: 10, CurrentUsage: 5, WarningThreshold: 80}, false, false},
		{domain.UsageLimit{Value: 10, CurrentUsage: 8, WarningThreshold: 80}, false, true},
		{domain.UsageLimit{Value: 10, CurrentUsage: 10, WarningThreshold: 80}, true, true},
		{domain.UsageLimit{Value: domain.Unlimited, CurrentUsage: 1000, WarningThreshold: 80}, false, false},
		{domain.UsageLimit{Value: 0, CurrentUsage: 0, WarningThreshold: 80}, true, false},
	}
	for _, tt := range tests {
		if got := tt.limit.IsExceeded(); got != tt.exceeded {
			t.Errorf("%+v IsExceeded = %v, want %v", tt.limit, got, tt.exceeded)
		}
		if got := tt.limit.NearLimit(); got != tt.near {
			t.Errorf("%+v NearLimit = %v, want %v", tt.limit, got, tt.near)
		}
	}
}

func TestRefreshUsageCountsTables(t *testing.T) {
	svc, db := newGate(t)
	org := testutil.CreateOrg(t, db, "Barbería Conteo", nil)
	other := testutil.CreateOrg(t, db, "Barbería Vecina", nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	mustCreate := func(v interface{}) {
		t.Helper()
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("create %T: %v", v, err)
		}
	}
	for _, name := range []string{"Ana", "Beto"} {
		mustCreate(&customerinfra.CustomerModel{OrganizationID: org.ID, FirstName: name, IsActive: true})
	}
	mustCreate(&customerinfra.CustomerModel{OrganizationID: other.ID, FirstName: "Carla", IsActive: true})

	orgID := org.ID
	mustCreate(&accountinfra.UserModel{Email: "owner@conteo.test", OrganizationID: &orgID, IsOwner: true})
	mustCreate(&accountinfra.UserModel{Email: "uno@conteo.test", OrganizationID: &orgID, IsStaffMember: true})
	mustCreate(&accountinfra.UserModel{Email: "dos@conteo.test", OrganizationID: &orgID, IsStaffMember: true})

	campaign := func(name string, created time.Time) *campaigninfra.MarketingCampaignModel {
		return &campaigninfra.MarketingCampaignModel{OrganizationID: org.ID, Name: name, Channel: "EMAIL",
			Content: "hola", TargetSegment: "ALL", Status: "DRAFT", CreatedAt: created}
	}
	mustCreate(campaign("abril", time.Date(2026, 4, 28, 9, 0, 0, 0, time.UTC)))
	mustCreate(campaign("mayo", time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)))

	tests := []struct {
		limit domain.LimitType
		want  int
	}{
		{domain.LimitCustomers, 2},
		{domain.LimitStaff, 2},
		{domain.LimitCampaignsMonthly, 1},
	}
	for _, tt := range tests {
		if err := svc.SetLimit(ctx, domain.UsageLimit{OrganizationID: org.ID, Type: tt.limit, Value: 10}); err != nil {
			t.Fatalf("set %s limit: %v", tt.limit, err)
		}
	}

	usage := func(lt domain.LimitType) int {
		t.Helper()
		limits, err := svc.Limits(ctx, org.ID)
		if err != nil {
			t.Fatalf("limits: %v", err)
		}
		for _, l := range limits {
			if l.Type == lt {
				return l.CurrentUsage
			}
		}
		t.Fatalf("limit %s not configured", lt)
		return 0
	}
	for _, tt := range tests {
		if got := usage(tt.limit); got != tt.want {
			t.Errorf("%s usage = %d, want %d", tt.limit, got, tt.want)
		}
	}

	mustCreate(&customerinfra.CustomerModel{OrganizationID: org.ID, FirstName: "Dora", IsActive: true})
	if got := usage(domain.LimitCustomers); got != 2 {
		t.Errorf("usage changed before refresh: %d", got)
	}
	if err := svc.RefreshUsage(ctx, org.ID, domain.LimitCustomers); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := usage(domain.LimitCustomers); got != 3 {
		t.Errorf("customers usage after refresh = %d, want 3", got)
	}

	// 没有配置额度或类型无法统计时不做任何事
	if err := svc.RefreshUsage(ctx, other.ID, domain.LimitCustomers); err != nil {
		t.Errorf("refresh without limit: %v", err)
	}
	if err := svc.SetLimit(ctx, domain.UsageLimit{OrganizationID: org.ID, Type: domain.LimitSMSMonthly, Value: 5}); err != nil {
		t.Fatalf("set sms limit: %v", err)
	}
	if got := usage(domain.LimitSMSMonthly); got != 0 {
		t.Errorf("sms usage = %d, want 0", got)
	}
}
