package orders

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const (
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderWebhookSignature = "X-Payment-Signature"

	maxWebhookBody = 1 << 20
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(h.HandleCheckout))
	mux.HandleFunc("POST /cart/checkout", telemetry.WithHTTPRoute(h.HandleCheckoutFromCart))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(h.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("POST /orders/{id}/payment", telemetry.WithHTTPRoute(h.HandleInitiatePayment))
	mux.HandleFunc("POST /orders/{id}/payment/verify", telemetry.WithHTTPRoute(h.HandleVerifyPayment))
	mux.HandleFunc("POST /orders/{id}/cancel", telemetry.WithHTTPRoute(h.HandleCancel))
	mux.HandleFunc("GET /admin/orders", telemetry.WithHTTPRoute(h.HandleListAll))
	mux.HandleFunc("PATCH /admin/orders/{id}/status", telemetry.WithHTTPRoute(h.HandleUpdateStatus))
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(h.HandleWebhook))
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, h.service.Checkout)
}

func (h *Handler) HandleCheckoutFromCart(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, h.service.CheckoutFromCart)
}

type checkoutFunc func(ctx context.Context, actor domain.Actor, req CheckoutRequest) (*domain.Order, error)

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, place checkoutFunc) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	order, err := place(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.service.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	f, err := parseOrderFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	page, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	f, err := parseOrderFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	f.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.service.ListAll(r.Context(), actor, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	intent, err := h.service.InitiatePayment(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, intent)
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}

	order, err := h.service.VerifyPayment(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			h.writeError(w, apperr.Validation("invalid request body"))
			return
		}
	}

	order, err := h.service.Cancel(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}

	if err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(HeaderWebhookSignature)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseOrderFilter(q url.Values) (domain.OrderFilter, error) {
	f := domain.OrderFilter{Status: domain.OrderStatus(strings.TrimSpace(q.Get("status")))}

	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, err
	}
	if f.Page, err = parseInt(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a plain date. A plain "to" date covers the whole day.
func parseTime(v string, endOfDay bool) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, apperr.Validation("invalid date %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseInt(v, name string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, apperr.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperr.HTTPStatus(err), apperr.PublicBody(err))
}
