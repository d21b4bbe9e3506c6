package interfaces

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"loyaltyhub/internal/pkg/httpx"
	"loyaltyhub/internal/service/audit/application"
	"loyaltyhub/internal/service/audit/domain"
)

// ClientIP 取 X-Forwarded-For 的第一个地址，否则用 RemoteAddr
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ""
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if ip == "" {
			ip = r.RemoteAddr
			if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				ip = h
			}
		}
		next.ServeHTTP(w, r.WithContext(application.WithClientIP(r.Context(), ip)))
	})
}

type AuditHandler struct {
	recorder *application.Recorder
}

func NewAuditHandler(recorder *application.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

func (h *AuditHandler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.handleList)
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.Filter{Action: domain.Action(strings.ToUpper(q.Get("action"))), Limit: httpx.QueryInt(r, "limit", 0)}
	if t, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		f.From = &t
	}
	if t, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		end := t.AddDate(0, 0, 1)
		f.To = &end
	}

	entries, err := h.recorder.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
