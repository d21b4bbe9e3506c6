package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func TestIssueAndParse(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, "loyaltyhub", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	want := Identity{UserID: 42, OrganizationID: 3, Email: "ana@example.com", Role: RoleCustomer, CustomerID: 17}
	token, err := issuer.Issue(want)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("identity = %+v, want %+v", got, want)
	}
}

func TestParseRejects(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, "loyaltyhub", time.Hour)
	other, _ := NewTokenIssuer("another-secret-of-16b", "loyaltyhub", time.Hour)
	foreign, _ := NewTokenIssuer(testSecret, "someone-else", time.Hour)
	id := Identity{UserID: 1, OrganizationID: 1, Role: RoleStaff}

	expired, _ := NewTokenIssuer(testSecret, "loyaltyhub", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tokens := map[string]func() (string, error){
		"wrong secret": func() (string, error) { return other.Issue(id) },
		"wrong issuer": func() (string, error) { return foreign.Issue(id) },
		"expired":      func() (string, error) { return expired.Issue(id) },
		"unknown role": func() (string, error) { return issuer.Issue(Identity{UserID: 1, Role: "admin"}) },
		"garbage":      func() (string, error) { return "not.a.token", nil },
	}
	for name, mk := range tokens {
		t.Run(name, func(t *testing.T) {
			raw, err := mk()
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if _, err := issuer.Parse(raw); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestShortSecret(t *testing.T) {
	if _, err := NewTokenIssuer("short", "x", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestRoleMiddleware(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, "loyaltyhub", time.Hour)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	token := func(role Role) string {
		raw, err := issuer.Issue(Identity{UserID: 5, OrganizationID: 1, Role: role})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return "Bearer " + raw
	}

	tests := []struct {
		name   string
		guard  func(http.Handler) http.Handler
		header string
		want   int
	}{
		{"staff on staff route", RequireStaff, token(RoleStaff), http.StatusNoContent},
		{"owner on staff route", RequireStaff, token(RoleOwner), http.StatusNoContent},
		{"customer on staff route", RequireStaff, token(RoleCustomer), http.StatusForbidden},
		{"staff on owner route", RequireOwner, token(RoleStaff), http.StatusForbidden},
		{"superuser on owner route", RequireOwner, token(RoleSuperuser), http.StatusNoContent},
		{"customer on customer route", RequireCustomer, token(RoleCustomer), http.StatusNoContent},
		{"owner on customer route", RequireCustomer, token(RoleOwner), http.StatusForbidden},
		{"anonymous", RequireStaff, "", http.StatusUnauthorized},
		{"basic auth", RequireStaff, "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"bad token", RequireStaff, "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Authenticate(issuer)(tt.guard(ok))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIdentityRoles(t *testing.T) {
	if (Identity{Role: RoleStaff}).Privileged() {
		t.Error("staff should not be privileged")
	}
	if !(Identity{Role: RoleSuperuser}).IsStaff() {
		t.Error("superuser should count as staff")
	}
	if (Identity{}).ActorID() != nil {
		t.Error("anonymous identity should have no actor")
	}
}
