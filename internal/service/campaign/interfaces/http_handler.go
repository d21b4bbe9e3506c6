package interfaces

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/campaign/application"
	"loyaltyhub/internal/service/campaign/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/tenant"
)

type CampaignHandler struct {
	service *application.CampaignService
}

func NewCampaignHandler(service *application.CampaignService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

func (h *CampaignHandler) RegisterRoutes(r chi.Router) {
	r.Get("/campaigns", h.handleList)
	r.Post("/campaigns", h.handleCreate)
	r.Get("/campaigns/{campaignID}", h.handleGet)
	r.Put("/campaigns/{campaignID}", h.handleUpdate)
	r.Post("/campaigns/{campaignID}/schedule", h.handleSchedule)
	r.Post("/campaigns/{campaignID}/dispatch", h.handleDispatch)
	r.Post("/campaigns/{campaignID}/cancel", h.handleCancel)
	r.Put("/campaign-logs/{logID}", h.handleUpdateLog)
}

func (h *CampaignHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"campaigns": list})
}

func (h *CampaignHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var cmd application.UpdateCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c := &domain.Campaign{
		Name:          cmd.Name,
		Channel:       cmd.Channel,
		Subject:       cmd.Subject,
		Content:       cmd.Content,
		TargetSegment: cmd.TargetSegment,
	}
	if err := h.service.Create(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *CampaignHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *CampaignHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var cmd application.UpdateCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := h.service.Update(r.Context(), id, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *CampaignHandler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	d, err := h.service.Schedule(r.Context(), id, req.ScheduledAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *CampaignHandler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Dispatch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *CampaignHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

type logRequest struct {
	Status       domain.LogStatus `json:"status"`
	ErrorMessage string           `json:"error_message"`
}

func (h *CampaignHandler) handleUpdateLog(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "logID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var req logRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	l, err := h.service.UpdateLog(r.Context(), id, req.Status, req.ErrorMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, l)
}

func campaignID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := httpx.URLUint(r, "campaignID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrNoTenant):
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", err.Error())
	case errors.Is(err, domain.ErrCampaignNotFound), errors.Is(err, domain.ErrLogNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNotEditable), errors.Is(err, domain.ErrInvalidState):
		httpx.WriteError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrNoRecipients):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "no_recipients", err.Error())
	case errors.Is(err, domain.ErrInvalidCampaign), errors.Is(err, domain.ErrInvalidSegment):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, gatedomain.ErrLimitExceeded):
		httpx.WriteError(w, http.StatusForbidden, "limit_exceeded", err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("campaign request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
