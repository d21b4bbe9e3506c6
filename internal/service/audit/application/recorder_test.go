package application

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/audit/infrastructure"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/testutil"
)

func newRecorder(t *testing.T) (*Recorder, *tenant.Organization, *tenant.Organization) {
	t.Helper()
	db := testutil.OpenDB(t)
	r := NewRecorder(infrastructure.NewGormRepository(db), noop.NewTracerProvider().Tracer("test"))
	r.now = func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) }
	return r, testutil.CreateOrg(t, db, "Barbería Audit", nil), testutil.CreateOrg(t, db, "Barbería Otra", nil)
}

func TestRecordTakesTenantActorAndIPFromContext(t *testing.T) {
	r, org, other := newRecorder(t)

	customerID := uint(42)
	ctx := WithClientIP(testutil.StaffContext(org, auth.RoleStaff, 9), "203.0.113.7")
	r.Record(ctx, domain.ActionStampAdd, "stamp_card", "Se agregaron 1 sello(s)", &customerID)

	entries, err := r.List(tenant.WithOrganization(context.Background(), org), domain.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.OrganizationID != org.ID || e.Action != domain.ActionStampAdd || e.Resource != "stamp_card" {
		t.Errorf("entry = %+v", e)
	}
	if e.UserID == nil || *e.UserID != 9 {
		t.Errorf("user id = %v, want 9", e.UserID)
	}
	if e.CustomerID == nil || *e.CustomerID != customerID {
		t.Errorf("customer id = %v, want %d", e.CustomerID, customerID)
	}
	if e.IPAddress != "203.0.113.7" {
		t.Errorf("ip = %q", e.IPAddress)
	}

	// 其他租户看不到
	foreign, err := r.List(tenant.WithOrganization(context.Background(), other), domain.Filter{})
	if err != nil || len(foreign) != 0 {
		t.Errorf("other tenant entries = %d, %v", len(foreign), err)
	}
}

func TestRecordWithoutIdentityOrTenant(t *testing.T) {
	r, org, _ := newRecorder(t)

	// 没有租户时跳过，不报错
	r.Record(context.Background(), domain.ActionCreate, "customer", "sin tenant", nil)

	// 公开流程没有操作人
	r.Record(tenant.WithOrganization(context.Background(), org), domain.ActionCreate, "stamp_request", "qr", nil)

	entries, err := r.List(tenant.WithOrganization(context.Background(), org), domain.Filter{Action: domain.ActionCreate})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].UserID != nil || entries[0].IPAddress != "" {
		t.Errorf("anonymous entry = %+v", entries[0])
	}
}
