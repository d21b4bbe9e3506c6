package interfaces

import (
	"net/http"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/gate/application"
	"loyaltyhub/internal/tenant"
)

// RequireFeature 当前租户未开通该功能时返回 403
func RequireFeature(gate *application.GateService, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id, _ := auth.FromContext(ctx)
			var orgID uint
			if org, err := tenant.FromContext(ctx); err == nil {
				orgID = org.ID
			}
			ok, err := gate.HasFeature(ctx, id, orgID, key)
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("feature", key).Msg("feature check failed")
				httpx.WriteError(w, http.StatusInternalServerError, "internal", "feature check failed")
				return
			}
			if !ok {
				httpx.WriteError(w, http.StatusForbidden, "feature_disabled", "feature "+key+" is not enabled for this business")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
