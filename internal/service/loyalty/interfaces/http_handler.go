package interfaces

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/loyalty/application"
	"loyaltyhub/internal/service/loyalty/domain"
	"loyaltyhub/internal/tenant"
)

type LoyaltyHandler struct {
	service *application.LoyaltyService
}

func NewLoyaltyHandler(service *application.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{service: service}
}

// RegisterPointRoutes 积分与服务目录（feature points）
func (h *LoyaltyHandler) RegisterPointRoutes(r chi.Router) {
	r.Get("/customers/{customerID}/points", h.handleCustomerPoints)
	r.Post("/points", h.handleAssign)
	r.Post("/sales", h.handleSale)
	r.Get("/services", h.handleListServices)
	r.Post("/services", h.handleCreateService)
	r.Put("/services/{serviceID}", h.handleUpdateService)
	r.Get("/service-categories", h.handleListCategories)
	r.Post("/service-categories", h.handleCreateCategory)
}

// RegisterRewardRoutes 奖品与兑换（feature rewards）
func (h *LoyaltyHandler) RegisterRewardRoutes(r chi.Router) {
	r.Get("/rewards", h.handleListRewards)
	r.Post("/rewards", h.handleCreateReward)
	r.Get("/rewards/{rewardID}", h.handleGetReward)
	r.Put("/rewards/{rewardID}", h.handleUpdateReward)
	r.Delete("/rewards/{rewardID}", h.handleDeleteReward)
	r.Post("/redemptions", h.handleRedeem)
	r.Get("/redemptions", h.handleListRedemptions)
}

func (h *LoyaltyHandler) handleCustomerPoints(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "customerID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	res, err := h.service.CustomerPoints(r.Context(), id, httpx.QueryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *LoyaltyHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var cmd application.AssignPointsCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entry, err := h.service.AssignPoints(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, entry)
}

type saleRequest struct {
	CustomerID uint `json:"customer_id"`
	ServiceID  uint `json:"service_id"`
}

func (h *LoyaltyHandler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	entry, err := h.service.RecordServiceSale(r.Context(), req.CustomerID, req.ServiceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entry == nil {
		// 服务不奖励积分
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"points": 0})
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, entry)
}

type rewardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PointsCost  int    `json:"points_cost"`
	IsActive    *bool  `json:"is_active"`
	// ValidUntil YYYY-MM-DD
	ValidUntil string `json:"valid_until"`
}

func (req *rewardRequest) apply(rw *domain.Reward) error {
	rw.Name, rw.Description, rw.PointsCost = req.Name, req.Description, req.PointsCost
	if req.IsActive != nil {
		rw.IsActive = *req.IsActive
	}
	rw.ValidUntil = nil
	if req.ValidUntil != "" {
		t, err := time.Parse(time.DateOnly, req.ValidUntil)
		if err != nil {
			return errors.Wrap(domain.ErrInvalidReward, "valid_until must be YYYY-MM-DD")
		}
		rw.ValidUntil = &t
	}
	return nil
}

func (h *LoyaltyHandler) handleListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.Rewards(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rewards": rewards})
}

func (h *LoyaltyHandler) handleGetReward(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "rewardID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rw, err := h.service.Reward(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rw)
}

func (h *LoyaltyHandler) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rw := &domain.Reward{IsActive: true}
	if err := req.apply(rw); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.CreateReward(r.Context(), rw); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rw)
}

func (h *LoyaltyHandler) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "rewardID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var req rewardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rw, err := h.service.Reward(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.apply(rw); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.UpdateReward(r.Context(), rw); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rw)
}

func (h *LoyaltyHandler) handleDeleteReward(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "rewardID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.service.DeleteReward(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type redeemRequest struct {
	CustomerID uint `json:"customer_id"`
	RewardID   uint `json:"reward_id"`
}

func (h *LoyaltyHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	res, err := h.service.RedeemReward(r.Context(), req.CustomerID, req.RewardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *LoyaltyHandler) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Redemptions(r.Context(), httpx.QueryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"redemptions": list})
}

type serviceRequest struct {
	CategoryID      *uint           `json:"category_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
	PointsReward    int             `json:"points_reward"`
	IsActive        *bool           `json:"is_active"`
}

func (req *serviceRequest) apply(s *domain.ServiceItem) {
	s.CategoryID, s.Name, s.Description = req.CategoryID, req.Name, req.Description
	s.Price, s.DurationMinutes, s.PointsReward = req.Price, req.DurationMinutes, req.PointsReward
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}
}

func (h *LoyaltyHandler) handleListServices(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Services(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": items})
}

func (h *LoyaltyHandler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	item := &domain.ServiceItem{IsActive: true}
	req.apply(item)
	if err := h.service.CreateService(r.Context(), item); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, item)
}

func (h *LoyaltyHandler) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "serviceID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	item, err := h.service.Service(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.apply(item)
	if err := h.service.UpdateService(r.Context(), item); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}

func (h *LoyaltyHandler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": list})
}

func (h *LoyaltyHandler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c domain.ServiceCategory
	if err := httpx.DecodeJSON(r, &c); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.service.CreateCategory(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var short *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &short):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"code":    "insufficient_balance",
			"balance": short.Balance,
			"cost":    short.Cost,
		})
	case errors.Is(err, tenant.ErrNoTenant):
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", err.Error())
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrRewardNotFound),
		errors.Is(err, domain.ErrServiceNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrRewardInUse):
		httpx.WriteError(w, http.StatusConflict, "reward_in_use", err.Error())
	case errors.Is(err, domain.ErrRewardUnavailable):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "reward_unavailable", err.Error())
	case errors.Is(err, domain.ErrInvalidPoints),
		errors.Is(err, domain.ErrInvalidType),
		errors.Is(err, domain.ErrInvalidReward),
		errors.Is(err, domain.ErrInvalidService):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("loyalty request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
