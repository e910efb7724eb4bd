package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

// Store is the product persistence used by the handler.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context, f Filter) ([]domain.Product, int, error)
	Create(ctx context.Context, p *domain.Product) error
	Update(ctx context.Context, p *domain.Product) error
	SetActive(ctx context.Context, id string, active bool) error
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Register mounts the catalog routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(h.HandleList))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("POST /products", telemetry.WithHTTPRoute(h.HandleCreate))
	mux.HandleFunc("PATCH /products/{id}", telemetry.WithHTTPRoute(h.HandleUpdate))
	mux.HandleFunc("PATCH /products/{id}/active", telemetry.WithHTTPRoute(h.HandleSetActive))
	mux.HandleFunc("POST /products/{id}/stock", telemetry.WithHTTPRoute(h.HandleAdjustStock))
}

type listResponse struct {
	Products []domain.Product `json:"products"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Pages    int              `json:"pages"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	products, total, err := h.store.List(r.Context(), f)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list products", "error", err)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "products listed", "count", len(products), "total", total)
	h.writeJSON(w, http.StatusOK, listResponse{
		Products: products,
		Total:    total,
		Page:     f.Page,
		Limit:    f.Limit,
		Pages:    (total + f.Limit - 1) / f.Limit,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get product", "error", err, "product_id", id)
		h.writeError(w, err)
		return
	}
	if p == nil || !p.IsActive {
		h.writeError(w, apperr.NotFound("product not found"))
		return
	}

	h.writeJSON(w, http.StatusOK, p)
}

type createRequest struct {
	VendorID       string                `json:"vendor_id"`
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Category       string                `json:"category"`
	Subcategory    string                `json:"subcategory"`
	Brand          string                `json:"brand"`
	Price          decimal.Decimal       `json:"price"`
	OriginalPrice  decimal.Decimal       `json:"original_price"`
	Tags           []string              `json:"tags"`
	Certifications domain.Certifications `json:"certifications"`
	Stock          *domain.Stock         `json:"stock"`
	IsFeatured     bool                  `json:"is_featured"`
}

func (req createRequest) validate() error {
	var missing []string
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(req.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if req.Price.IsNegative() || req.OriginalPrice.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	if req.Stock != nil && req.Stock.Quantity < 0 {
		return apperr.Validation("stock quantity must not be negative")
	}
	return nil
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if actor.Role != domain.RoleVendor && !actor.IsAdmin() {
		h.writeError(w, apperr.Forbidden("only vendors can create products"))
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		h.writeError(w, err)
		return
	}

	stock := domain.Stock{LowStockThreshold: 10, TrackInventory: true}
	if req.Stock != nil {
		stock = *req.Stock
	}
	vendorID := actor.UserID
	if actor.IsAdmin() && req.VendorID != "" {
		vendorID = req.VendorID
	}

	p := &domain.Product{
		ID:             uuid.NewString(),
		VendorID:       vendorID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Category:       strings.TrimSpace(req.Category),
		Subcategory:    req.Subcategory,
		Brand:          req.Brand,
		Price:          req.Price,
		OriginalPrice:  req.OriginalPrice,
		Tags:           req.Tags,
		Certifications: req.Certifications,
		Stock:          stock,
		IsActive:       true,
		IsFeatured:     req.IsFeatured,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}

	if err := h.store.Create(r.Context(), p); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create product", "error", err)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "product created", "product_id", p.ID, "vendor_id", p.VendorID)
	h.writeJSON(w, http.StatusCreated, p)
}

// updateRequest carries a partial edit. Absent fields keep their value.
type updateRequest struct {
	Name              *string                `json:"name"`
	Description       *string                `json:"description"`
	Category          *string                `json:"category"`
	Subcategory       *string                `json:"subcategory"`
	Brand             *string                `json:"brand"`
	Price             *decimal.Decimal       `json:"price"`
	OriginalPrice     *decimal.Decimal       `json:"original_price"`
	Tags              []string               `json:"tags"`
	Certifications    *domain.Certifications `json:"certifications"`
	LowStockThreshold *int                   `json:"low_stock_threshold"`
	TrackInventory    *bool                  `json:"track_inventory"`
	IsFeatured        *bool                  `json:"is_featured"`
}

func (req updateRequest) apply(p *domain.Product) error {
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return apperr.Validation("name must not be empty")
		}
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		if strings.TrimSpace(*req.Category) == "" {
			return apperr.Validation("category must not be empty")
		}
		p.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return apperr.Validation("price must not be negative")
		}
		p.Price = *req.Price
	}
	if req.OriginalPrice != nil {
		if req.OriginalPrice.IsNegative() {
			return apperr.Validation("price must not be negative")
		}
		p.OriginalPrice = *req.OriginalPrice
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return apperr.Validation("low stock threshold must not be negative")
		}
		p.Stock.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Subcategory != nil {
		p.Subcategory = *req.Subcategory
	}
	if req.Brand != nil {
		p.Brand = *req.Brand
	}
	if req.Tags != nil {
		p.Tags = req.Tags
	}
	if req.Certifications != nil {
		p.Certifications = *req.Certifications
	}
	if req.TrackInventory != nil {
		p.Stock.TrackInventory = *req.TrackInventory
	}
	if req.IsFeatured != nil {
		p.IsFeatured = *req.IsFeatured
	}
	return nil
}

// HandleUpdate edits a product. Orders already placed keep the price they
// were placed at.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.authorizeVendor(r, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if err := req.apply(p); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.store.Update(r.Context(), p); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, apperr.NotFound("product not found"))
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to update product", "error", err, "product_id", id)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "product updated", "product_id", id, "price", p.Price.String())
	h.writeJSON(w, http.StatusOK, p)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.authorizeVendor(r, id); err != nil {
		h.writeError(w, err)
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.writeError(w, apperr.Validation("active is required"))
		return
	}

	if err := h.store.SetActive(r.Context(), id, *req.Active); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, apperr.NotFound("product not found"))
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to update product", "error", err, "product_id", id)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "product visibility changed", "product_id", id, "active", *req.Active)
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": *req.Active})
}

type adjustStockRequest struct {
	Delta int `json:"delta"`
}

type stockResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.authorizeVendor(r, id); err != nil {
		h.writeError(w, err)
		return
	}

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == 0 {
		h.writeError(w, apperr.Validation("delta must be a non-zero integer"))
		return
	}

	quantity, err := h.store.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, apperr.NotFound("product not found"))
		case errors.Is(err, ErrInsufficientStock):
			h.writeError(w, apperr.New(apperr.KindInsufficientStock, "stock cannot go below zero"))
		default:
			h.logger.ErrorContext(r.Context(), "failed to adjust stock", "error", err, "product_id", id, "delta", req.Delta)
			h.writeError(w, err)
		}
		return
	}

	h.logger.InfoContext(r.Context(), "stock adjusted", "product_id", id, "delta", req.Delta, "quantity", quantity)
	h.writeJSON(w, http.StatusOK, stockResponse{ProductID: id, Quantity: quantity})
}

// authorizeVendor allows admins and the vendor that owns the product.
func (h *Handler) authorizeVendor(r *http.Request, productID string) (*domain.Product, error) {
	actor, err := identity.FromRequest(r)
	if err != nil {
		return nil, err
	}

	p, err := h.store.Get(r.Context(), productID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get product", "error", err, "product_id", productID)
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("product not found")
	}
	if !actor.IsAdmin() && !(actor.Role == domain.RoleVendor && actor.Owns(p.VendorID)) {
		return nil, apperr.Forbidden("not allowed to manage this product")
	}
	return p, nil
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
