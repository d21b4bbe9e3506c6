package interfaces

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/live"
	"loyaltyhub/internal/pkg/logger"
	customerdomain "loyaltyhub/internal/service/customer/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/service/stamps/application"
	"loyaltyhub/internal/service/stamps/domain"
	"loyaltyhub/internal/tenant"
)

// StampHandler 集章相关的 HTTP 接口，按调用方分三组注册
type StampHandler struct {
	service *application.StampService
	hub     *live.Hub
}

func NewStampHandler(service *application.StampService, hub *live.Hub) *StampHandler {
	return &StampHandler{service: service, hub: hub}
}

// RegisterStaffRoutes 需要员工身份和 stamps 功能
func (h *StampHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/promotions", h.handleListPromotions)
	r.Post("/promotions", h.handleCreatePromotion)
	r.Put("/promotions/{promotionID}", h.handleUpdatePromotion)

	r.Post("/stamps", h.handleAssign)
	r.Post("/customers/{customerID}/stamp", h.handleAddOne)
	r.Get("/customers/{customerID}/stamp-history", h.handleHistory)

	r.Get("/cards", h.handleBoard)
	r.Get("/cards/stats", h.handleStats)
	r.Post("/cards/{cardID}/redeem", h.handleRedeem)
	r.Post("/cards/{cardID}/reset", h.handleReset)
	r.Post("/stamp-transactions/{txID}/undo", h.handleUndo)

	r.Get("/stamp-requests", h.handlePending)
	r.Post("/stamp-requests/{requestID}/approve", h.handleApprove)
	r.Post("/stamp-requests/{requestID}/reject", h.handleReject)
	if h.hub != nil {
		r.Get("/ws/stamp-requests", h.handleLiveFeed)
	}
}

// RegisterCustomerRoutes 顾客自助
func (h *StampHandler) RegisterCustomerRoutes(r chi.Router) {
	r.Get("/me/cards", h.handleMyCards)
	r.Post("/me/cards/{cardID}/request-redemption", h.handleRequestRedemption)
}

// RegisterPublicRoutes 扫码页，租户来自路径中的 slug
func (h *StampHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/stamp-requests", h.handleSubmitRequest)
	r.Get("/cards", h.handlePublicCards)
}

type promotionRequest struct {
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	TotalStampsNeeded int        `json:"total_stamps_needed"`
	RewardDescription string     `json:"reward_description"`
	IsActive          *bool      `json:"is_active"`
	StartDate         *time.Time `json:"start_date"`
	EndDate           *time.Time `json:"end_date"`
}

func (req *promotionRequest) apply(p *domain.StampPromotion) {
	p.Name, p.Description, p.RewardDescription = req.Name, req.Description, req.RewardDescription
	p.TotalStampsNeeded = req.TotalStampsNeeded
	p.StartDate, p.EndDate = req.StartDate, req.EndDate
	p.IsActive = req.IsActive == nil || *req.IsActive
}

func (h *StampHandler) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.Promotions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"promotions": promos})
}

func (h *StampHandler) handleCreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	p := &domain.StampPromotion{}
	req.apply(p)
	if err := h.service.CreatePromotion(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *StampHandler) handleUpdatePromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "promotionID")
	if !ok {
		return
	}
	var req promotionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	p := &domain.StampPromotion{ID: id}
	req.apply(p)
	if err := h.service.UpdatePromotion(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *StampHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var cmd application.AddStampsCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.addStamps(w, r, cmd)
}

// handleAddOne 看板上的"+1"按钮
func (h *StampHandler) handleAddOne(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	promo, _ := strconv.ParseUint(r.URL.Query().Get("promotion_id"), 10, 64)
	h.addStamps(w, r, application.AddStampsCommand{CustomerID: id, PromotionID: uint(promo), Quantity: 1})
}

func (h *StampHandler) addStamps(w http.ResponseWriter, r *http.Request, cmd application.AddStampsCommand) {
	res, err := h.service.AddStamps(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *StampHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	entries, err := h.service.CustomerHistory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

func (h *StampHandler) handleBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Board(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, board)
}

func (h *StampHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Board(r.Context(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, board.Stats)
}

func (h *StampHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	h.cardAction(w, r, h.service.RedeemCard)
}

func (h *StampHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.cardAction(w, r, h.service.ResetCard)
}

func (h *StampHandler) handleRequestRedemption(w http.ResponseWriter, r *http.Request) {
	h.cardAction(w, r, h.service.RequestRedemption)
}

func (h *StampHandler) cardAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uint) (*domain.StampCard, error)) {
	id, ok := pathID(w, r, "cardID")
	if !ok {
		return
	}
	card, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, card)
}

func (h *StampHandler) handleUndo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "txID")
	if !ok {
		return
	}
	card, err := h.service.UndoTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, card)
}

func (h *StampHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.PendingRequests(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (h *StampHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	res, err := h.service.ApproveRequest(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *StampHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	req, err := h.service.RejectRequest(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, req)
}

func (h *StampHandler) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	org, err := tenant.FromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.hub.Serve(w, r, org.ID)
}

func (h *StampHandler) handleMyCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.service.MyCards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func (h *StampHandler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var cmd application.SubmitRequestCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req, err := h.service.SubmitStampRequest(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, req)
}

func (h *StampHandler) handlePublicCards(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "phone is required")
		return
	}
	cards, err := h.service.PublicCards(r.Context(), phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := httpx.URLUint(r, name)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooSoon *domain.TooSoonError
	var cooldown *domain.CooldownError
	switch {
	case errors.As(err, &tooSoon):
		writeRetry(w, "too_soon", tooSoon.Error(), tooSoon.MinutesLeft())
	case errors.As(err, &cooldown):
		writeRetry(w, "request_cooldown", cooldown.Error(), cooldown.MinutesLeft())
	case errors.Is(err, tenant.ErrNoTenant):
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		httpx.WriteError(w, http.StatusForbidden, "permission_denied", "you do not have permission for this action")
	case errors.Is(err, domain.ErrPromotionNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrCardNotFound),
		errors.Is(err, domain.ErrTxNotFound),
		errors.Is(err, domain.ErrRequestNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrPromotionInactive):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "promotion_inactive", err.Error())
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrUndoWindowExpired):
		httpx.WriteError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPromotion),
		errors.Is(err, customerdomain.ErrInvalidCustomer):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, gatedomain.ErrLimitExceeded):
		httpx.WriteError(w, http.StatusForbidden, "limit_exceeded", err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("stamp request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeRetry(w http.ResponseWriter, code, msg string, minutes int) {
	httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{Error: msg, Code: code, RetryAfterMinutes: &minutes})
}
