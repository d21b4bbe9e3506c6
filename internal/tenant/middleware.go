package tenant

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
)

// HeaderTenantSlug 超级管理员切换租户
const HeaderTenantSlug = "X-Tenant-Slug"

// Resolver 解析顺序：Host 绑定的域名 -> 超级管理员指定 -> 登录用户所属租户
// 找不到时不报错，由 RequireTenant 或业务层决定
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		org, err := rs.resolve(r)
		if err != nil && !errors.Is(err, ErrNotFound) {
			logger.Ctx(ctx).Error().Err(err).Str("host", r.Host).Msg("tenant resolution failed")
			httpx.WriteError(w, http.StatusInternalServerError, "internal", "tenant resolution failed")
			return
		}
		if org != nil {
			ctx = WithOrganization(ctx, org)
			ctx = logger.With(ctx, "tenant", org.Slug)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rs *Resolver) resolve(r *http.Request) (*Organization, error) {
	ctx := r.Context()
	if host := hostOnly(r.Host); host != "" {
		org, err := rs.store.FindByHost(ctx, host)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	id, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrNotFound
	}
	if slug := r.Header.Get(HeaderTenantSlug); slug != "" && id.IsSuperuser() {
		return rs.store.FindBySlug(ctx, slug)
	}
	if id.OrganizationID == 0 {
		return nil, ErrNotFound
	}
	return rs.store.FindByID(ctx, id.OrganizationID)
}

// FromSlugParam 公开接口在没有绑定域名时通过路径中的 {slug} 确定租户
func (rs *Resolver) FromSlugParam(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := FromContext(r.Context()); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			org, err := rs.store.FindBySlug(r.Context(), chi.URLParam(r, param))
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", "unknown business")
					return
				}
				httpx.WriteError(w, http.StatusInternalServerError, "internal", "tenant resolution failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOrganization(r.Context(), org)))
		})
	}
}

// RequireTenant 没有租户的请求直接 404
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := FromContext(r.Context()); err != nil {
			httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", "no business resolved for this request")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hostOnly 去掉端口并转小写
func hostOnly(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
