package interfaces

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/report/application"
	"loyaltyhub/internal/service/report/domain"
	"loyaltyhub/internal/tenant"
)

type ReportHandler struct {
	service *application.ReportService
}

func NewReportHandler(service *application.ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// RegisterRoutes 仪表盘与报表（feature reports）
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard", h.handleDashboard)
	r.Get("/reports/points", h.handlePoints)
}

// RegisterExportRoutes CSV 导出（feature customers.export_data）
func (h *ReportHandler) RegisterExportRoutes(r chi.Router) {
	r.Get("/exports/{kind}.csv", h.handleExport)
}

func (h *ReportHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *ReportHandler) handlePoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := h.service.PointsReport(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

func (h *ReportHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	kind := domain.Export(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		httpx.WriteError(w, http.StatusNotFound, "unknown_export", "unknown export")
		return
	}
	q := r.URL.Query()
	var buf bytes.Buffer
	if err := h.service.WriteCSV(r.Context(), kind, &buf, q.Get("start_date"), q.Get("end_date")); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, kind))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrNoTenant):
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidRange):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, domain.ErrUnknownExport):
		httpx.WriteError(w, http.StatusNotFound, "unknown_export", err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("report request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
