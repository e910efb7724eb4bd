// Package identity turns the identity headers set by the edge into a domain.Actor.
package identity

import (
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

// FromRequest returns the caller. A request without a user id is unauthenticated.
func FromRequest(r *http.Request) (domain.Actor, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return domain.Actor{}, apperr.New(apperr.KindUnauthorized, "authentication required")
	}

	role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))))
	switch role {
	case domain.RoleAdmin, domain.RoleVendor:
	default:
		role = domain.RoleCustomer
	}

	return domain.Actor{UserID: userID, Role: role}, nil
}
