package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestServiceProxy_ForwardRequest(t *testing.T) {
	t.Run("forwards GET request with query", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			if r.URL.Path != "/products" {
				t.Errorf("expected /products, got %s", r.URL.Path)
			}
			if r.URL.RawQuery != "category=spices&page=2" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		proxy := NewServiceProxy(server.URL+"/", server.Client())
		req := httptest.NewRequest(http.MethodGet, "/products?category=spices&page=2", nil)
		resp, err := proxy.ForwardRequest(context.Background(), req, "/products")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("forwards body and allow-listed headers only", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := map[string]string{
				"Content-Type":        "application/json",
				"X-User-ID":           "u1",
				"X-User-Role":         "customer",
				"Idempotency-Key":     "k1",
				"X-Payment-Signature": "sig",
				"X-Request-Id":        "req-1",
			}
			for k, v := range want {
				if got := r.Header.Get(k); got != v {
					t.Errorf("header %s: expected %q, got %q", k, v, got)
				}
			}
			if got := r.Header.Get("Cookie"); got != "" {
				t.Errorf("expected Cookie to be dropped, got %q", got)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"items":[]}` {
				t.Errorf("unexpected body: %s", body)
			}
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		proxy := NewServiceProxy(server.URL, server.Client()).TrustIdentityHeaders()
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("X-User-Role", "customer")
		req.Header.Set("Idempotency-Key", "k1")
		req.Header.Set("X-Payment-Signature", "sig")
		req.Header.Set("Cookie", "session=secret")

		ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
		resp, err := proxy.ForwardRequest(ctx, req, "/orders")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusCreated {
			t.Errorf("expected status 201, got %d", resp.StatusCode)
		}
	})

	t.Run("drops identity headers unless trusted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range []string{"X-User-ID", "X-User-Role"} {
				if got := r.Header.Get(h); got != "" {
					t.Errorf("expected %s to be dropped, got %q", h, got)
				}
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		proxy := NewServiceProxy(server.URL, server.Client())
		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("X-User-ID", "mallory")
		req.Header.Set("X-User-Role", "admin")

		resp, err := proxy.ForwardRequest(context.Background(), req, "/admin/orders")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = resp.Body.Close()
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		proxy := NewServiceProxy(server.URL, server.Client())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		_, err := proxy.ForwardRequest(ctx, req, "/orders")
		if err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}
