package interfaces

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/notification/domain"
	"loyaltyhub/internal/tenant"
)

type ConfigService interface {
	Config(ctx context.Context) (*domain.Config, error)
	SaveConfig(ctx context.Context, cfg *domain.Config) error
}

// ConfigHandler 租户通知配置
type ConfigHandler struct {
	svc ConfigService
}

func NewConfigHandler(svc ConfigService) *ConfigHandler {
	return &ConfigHandler{svc: svc}
}

func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/notification-config", h.get)
	r.Put("/notification-config", h.put)
}

func (h *ConfigHandler) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cfg)
}

func (h *ConfigHandler) put(w http.ResponseWriter, r *http.Request) {
	var cfg domain.Config
	if err := httpx.DecodeJSON(r, &cfg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := h.svc.SaveConfig(r.Context(), &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, &cfg)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, tenant.ErrNoTenant) {
		httpx.WriteError(w, http.StatusBadRequest, "no_tenant", err.Error())
		return
	}
	logger.Ctx(r.Context()).Error().Err(err).Msg("notification config request failed")
	httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
}
