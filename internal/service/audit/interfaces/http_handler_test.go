package interfaces

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/service/audit/application"
	"loyaltyhub/internal/service/audit/domain"
	"loyaltyhub/internal/service/audit/infrastructure"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/testutil"
)

func TestClientIPRecordedByMiddleware(t *testing.T) {
	db := testutil.OpenDB(t)
	org := testutil.CreateOrg(t, db, "Barbería IP", nil)
	recorder := application.NewRecorder(infrastructure.NewGormRepository(db), noop.NewTracerProvider().Tracer("test"))

	tests := []struct {
		name   string
		header string
		remote string
		want   string
	}{
		{"forwarded", "198.51.100.4, 10.0.0.1", "10.0.0.1:5555", "198.51.100.4"},
		{"remote addr", "", "192.0.2.10:443", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := auth.WithIdentity(tenant.WithOrganization(r.Context(), org),
					auth.Identity{UserID: 3, OrganizationID: org.ID, Role: auth.RoleOwner})
				recorder.Record(ctx, domain.ActionUpdate, "organization", tt.name, nil)
			}))
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.header != "" {
				req.Header.Set("X-Forwarded-For", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			entries, err := recorder.List(tenant.WithOrganization(context.Background(), org), domain.Filter{Action: domain.ActionUpdate})
			if err != nil || len(entries) == 0 {
				t.Fatalf("entries = %v, %v", entries, err)
			}
			if got := entries[0].IPAddress; got != tt.want {
				t.Errorf("ip = %q, want %q", got, tt.want)
			}
		})
	}
}
