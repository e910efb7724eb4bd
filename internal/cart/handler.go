package cart

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("POST /cart/items", telemetry.WithHTTPRoute(h.HandleAdd))
	mux.HandleFunc("PUT /cart/items/{productId}", telemetry.WithHTTPRoute(h.HandleUpdate))
	mux.HandleFunc("DELETE /cart/items/{productId}", telemetry.WithHTTPRoute(h.HandleRemove))
	mux.HandleFunc("DELETE /cart", telemetry.WithHTTPRoute(h.HandleClear))
}

type addRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.service.Get(r.Context(), actor)
	h.respond(w, r, cart, err)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := addRequest{Quantity: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		h.writeError(w, r, apperr.Validation("product_id is required"))
		return
	}

	cart, err := h.service.Add(r.Context(), actor, req.ProductID, req.Quantity)
	h.respond(w, r, cart, err)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}

	cart, err := h.service.Update(r.Context(), actor, r.PathValue("productId"), req.Quantity)
	h.respond(w, r, cart, err)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.service.Remove(r.Context(), actor, r.PathValue("productId"))
	h.respond(w, r, cart, err)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.Clear(r.Context(), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, cart *domain.Cart, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.ErrorContext(r.Context(), "cart request failed", "error", err, "path", r.URL.Path)
	}
	h.writeJSON(w, apperr.HTTPStatus(err), apperr.PublicBody(err))
}
