package interfaces

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/service/gate/application"
	"loyaltyhub/internal/tenant"
)

type GateHandler struct {
	service *application.GateService
}

func NewGateHandler(service *application.GateService) *GateHandler {
	return &GateHandler{service: service}
}

// RegisterRoutes 店主查看本店开通的功能和额度
func (h *GateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plan", h.handlePlan)
}

type limitView struct {
	Type       string  `json:"limit_type"`
	Value      int     `json:"limit_value"`
	Usage      int     `json:"current_usage"`
	Percentage float64 `json:"usage_percentage"`
	Exceeded   bool    `json:"is_exceeded"`
	Warning    bool    `json:"warning"`
}

func (h *GateHandler) handlePlan(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", err.Error())
		return
	}
	features, err := h.service.Features(r.Context(), org.ID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	limits, err := h.service.Limits(r.Context(), org.ID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	views := make([]limitView, 0, len(limits))
	for _, l := range limits {
		views = append(views, limitView{
			Type:       string(l.Type),
			Value:      l.Value,
			Usage:      l.CurrentUsage,
			Percentage: l.UsagePercentage(),
			Exceeded:   l.IsExceeded(),
			Warning:    l.NearLimit(),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"features": features, "limits": views})
}
