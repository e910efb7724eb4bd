// Package gateway is the public edge in front of the storefront API.
package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Handler struct {
	storefront *ServiceProxy
	logger     *slog.Logger
}

func NewHandler(storefront *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		storefront: storefront,
		logger:     logger,
	}
}

// Router exposes the storefront routes. Paths outside of them get 404 at
// the edge without reaching the upstream.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/products", h.proxy)
	r.Post("/products", h.proxy)
	r.Get("/products/{id}", h.proxy)
	r.Patch("/products/{id}", h.proxy)
	r.Patch("/products/{id}/active", h.proxy)
	r.Post("/products/{id}/stock", h.proxy)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.proxy)
		r.Delete("/", h.proxy)
		r.Post("/items", h.proxy)
		r.Put("/items/{productId}", h.proxy)
		r.Delete("/items/{productId}", h.proxy)
		r.Post("/checkout", h.proxy)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.proxy)
		r.Post("/", h.proxy)
		r.Get("/{id}", h.proxy)
		r.Post("/{id}/payment", h.proxy)
		r.Post("/{id}/payment/verify", h.proxy)
		r.Post("/{id}/cancel", h.proxy)
	})

	r.Get("/admin/orders", h.proxy)
	r.Patch("/admin/orders/{id}/status", h.proxy)
	r.Post("/payments/webhook", h.proxy)

	return r
}

func (h *Handler) proxy(w http.ResponseWriter, r *http.Request) {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			oteltrace.SpanFromContext(r.Context()).SetAttributes(semconv.HTTPRoute(pattern))
		}
	}

	path := r.URL.Path
	resp, err := h.storefront.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range responseHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to copy response body", "error", err)
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "request proxied",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
