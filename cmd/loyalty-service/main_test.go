package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace/noop"

	"loyaltyhub/internal/app"
	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/bootstrap"
	customerdomain "loyaltyhub/internal/service/customer/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	stampsdomain "loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
	"loyaltyhub/internal/testutil"
)

type server struct {
	t      *testing.T
	c      *app.Container
	router chi.Router
	org    *tenant.Organization
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.OpenDB(t)
	cfg := &bootstrap.Config{Auth: bootstrap.AuthConfig{JWTSecret: "test-secret-0123456789", Issuer: "loyaltyhub", TokenTTL: time.Hour}}
	c, err := app.Assemble(context.Background(), db, cfg, noop.NewTracerProvider().Tracer("test"), app.Options{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })

	r := chi.NewRouter()
	registerRoutes(r, c)
	return &server{t: t, c: c, router: r, org: testutil.CreateOrg(t, db, "Barbería Central", nil)}
}

func (s *server) token(role auth.Role, userID uint) string {
	s.t.Helper()
	tok, err := s.c.Tokens.Issue(auth.Identity{UserID: userID, OrganizationID: s.org.ID, Role: role})
	if err != nil {
		s.t.Fatalf("issue: %v", err)
	}
	return tok
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

// seed 建一个进行中的活动和一个顾客
func (s *server) seed() (promoID, customerID uint) {
	s.t.Helper()
	ctx := testutil.StaffContext(s.org, auth.RoleOwner, 1)
	p := &stampsdomain.StampPromotion{Name: "Corte gratis", TotalStampsNeeded: 5, RewardDescription: "Corte", IsActive: true}
	if err := s.c.Stamps.CreatePromotion(ctx, p); err != nil {
		s.t.Fatalf("promotion: %v", err)
	}
	cust := &customerdomain.Customer{FirstName: "Ana", Phone: "999111222"}
	if err := s.c.Customers.Create(ctx, cust); err != nil {
		s.t.Fatalf("customer: %v", err)
	}
	return p.ID, cust.ID
}

func TestStaffStampFlow(t *testing.T) {
	s := newServer(t)
	promoID, customerID := s.seed()
	staff := s.token(auth.RoleStaff, 7)
	add := map[string]any{"customer_id": customerID, "promotion_id": promoID, "quantity": 1}

	rec := s.do(http.MethodPost, "/api/stamps", staff, add)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "feature_disabled" {
		t.Fatalf("without feature: %d %s", rec.Code, rec.Body)
	}

	if err := s.c.Gate.SetFeature(context.Background(), s.org.ID, gatedomain.FeatureStamps, true, ""); err != nil {
		t.Fatalf("enable: %v", err)
	}
	rec = s.do(http.MethodPost, "/api/stamps", staff, add)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: %d %s", rec.Code, rec.Body)
	}
	var res struct {
		Card struct {
			CurrentStamps int `json:"current_stamps"`
		} `json:"card"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || res.Card.CurrentStamps != 1 {
		t.Fatalf("result %s: %v", rec.Body, err)
	}

	rec = s.do(http.MethodPost, "/api/stamps", staff, add)
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "too_soon" {
		t.Fatalf("second add: %d %s", rec.Code, rec.Body)
	}
}

func TestAPIRequiresIdentity(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"anonymous has no tenant", "", http.StatusNotFound},
		{"garbage token", "nope", http.StatusUnauthorized},
		{"customer on staff route", s.token(auth.RoleCustomer, 0), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(http.MethodGet, "/api/cards", tt.token, nil); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestPublicStampRequest(t *testing.T) {
	s := newServer(t)
	s.seed()
	body := map[string]string{"phone": "+51 988 777 666", "first_name": "Eva"}

	rec := s.do(http.MethodPost, "/public/"+s.org.Slug+"/stamp-requests", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodPost, "/public/"+s.org.Slug+"/stamp-requests", "", body)
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "request_cooldown" {
		t.Fatalf("resubmit: %d %s", rec.Code, rec.Body)
	}
	if rec := s.do(http.MethodPost, "/public/no-such-shop/stamp-requests", "", body); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown slug: %d", rec.Code)
	}
}
