package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/joao-fontenele/storefront/internal/identity"
)

// forwardedHeaders are copied from the client request to the upstream.
// Anything else, cookies included, is dropped at the edge.
var forwardedHeaders = []string{
	"Content-Type",
	"Accept",
	"Idempotency-Key",
	"X-Payment-Signature",
}

// identityHeaders are only forwarded when an auth layer in front of the
// gateway sets them. Otherwise any caller could claim to be an admin.
var identityHeaders = []string{
	identity.HeaderUserID,
	identity.HeaderRole,
}

var responseHeaders = []string{
	"Content-Type",
	"Cache-Control",
}

type ServiceProxy struct {
	baseURL       string
	client        *http.Client
	trustIdentity bool
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// TrustIdentityHeaders makes the proxy forward the caller's identity headers.
func (p *ServiceProxy) TrustIdentityHeaders() *ServiceProxy {
	p.trustIdentity = true
	return p
}

// ForwardRequest replays r against the upstream at path, keeping the query
// string and the allow-listed headers. The request id assigned at the edge
// travels as X-Request-ID.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength

	copyHeaders(req.Header, r.Header, forwardedHeaders)
	if p.trustIdentity {
		copyHeaders(req.Header, r.Header, identityHeaders)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	return p.client.Do(req)
}

func copyHeaders(dst, src http.Header, names []string) {
	for _, h := range names {
		if v := src.Get(h); v != "" {
			dst.Set(h, v)
		}
	}
}
