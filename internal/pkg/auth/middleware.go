package auth

import (
	"net/http"
	"strings"

	"loyaltyhub/internal/pkg/httpx"
)

// Authenticate 解析 Bearer token；没有 token 的请求按匿名放行
func Authenticate(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "expected bearer token")
				return
			}
			id, err := issuer.Parse(raw)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func require(allow func(Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !allow(id) {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaff 员工、店主、超级管理员
func RequireStaff(next http.Handler) http.Handler {
	return require(Identity.IsStaff)(next)
}

// RequireOwner 店主或超级管理员
func RequireOwner(next http.Handler) http.Handler {
	return require(Identity.Privileged)(next)
}

// RequireCustomer 顾客自助接口
func RequireCustomer(next http.Handler) http.Handler {
	return require(func(i Identity) bool { return i.Role == RoleCustomer })(next)
}
