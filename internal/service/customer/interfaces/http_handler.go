package interfaces

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/service/customer/application"
	"loyaltyhub/internal/service/customer/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/tenant"
)

type CustomerHandler struct {
	service *application.CustomerService
}

func NewCustomerHandler(service *application.CustomerService) *CustomerHandler {
	return &CustomerHandler{service: service}
}

func (h *CustomerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/customers", h.handleList)
	r.Post("/customers", h.handleCreate)
	r.Get("/customers/birthdays", h.handleBirthdays)
	r.Get("/customers/{customerID}", h.handleGet)
	r.Put("/customers/{customerID}", h.handleUpdate)
	r.Delete("/customers/{customerID}", h.handleDelete)
}

type customerRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	NationalID string `json:"national_id"`
	BirthDay   *int   `json:"birth_day"`
	BirthMonth *int   `json:"birth_month"`
	BirthYear  *int   `json:"birth_year"`
	Notes      string `json:"notes"`
	IsActive   *bool  `json:"is_active"`
}

func (req *customerRequest) apply(c *domain.Customer) {
	c.FirstName, c.LastName, c.Email, c.Phone = req.FirstName, req.LastName, req.Email, req.Phone
	c.NationalID, c.Notes = req.NationalID, req.Notes
	c.BirthDay, c.BirthMonth, c.BirthYear = req.BirthDay, req.BirthMonth, req.BirthYear
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
}

func (h *CustomerHandler) handleList(w http.ResponseWriter, r *http.Request) {
	f := domain.Filter{
		Query:  r.URL.Query().Get("q"),
		Limit:  httpx.QueryInt(r, "limit", 50),
		Offset: httpx.QueryInt(r, "offset", 0),
	}
	customers, total, err := h.service.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"customers": customers, "total": total})
}

func (h *CustomerHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c := &domain.Customer{}
	req.apply(c)
	if err := h.service.Create(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *CustomerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "customerID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *CustomerHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "customerID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.apply(c)
	if err := h.service.Update(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *CustomerHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUint(r, "customerID")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomerHandler) handleBirthdays(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.BirthdaysToday(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrNoTenant):
		httpx.WriteError(w, http.StatusNotFound, "tenant_not_found", err.Error())
	case errors.Is(err, domain.ErrCustomerNotFound):
		httpx.WriteError(w, http.StatusNotFound, "customer_not_found", err.Error())
	case errors.Is(err, domain.ErrDuplicatePhone):
		httpx.WriteError(w, http.StatusConflict, "duplicate_phone", err.Error())
	case errors.Is(err, domain.ErrInvalidCustomer):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_customer", err.Error())
	case errors.Is(err, gatedomain.ErrLimitExceeded):
		httpx.WriteError(w, http.StatusForbidden, "limit_exceeded", err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("customer request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
