// Package apperr classifies workflow failures into the kinds exposed to API callers.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation              Kind = "validation"
	KindNotFound                Kind = "not_found"
	KindForbidden               Kind = "forbidden"
	KindUnauthorized            Kind = "unauthorized"
	KindProductUnavailable      Kind = "product_unavailable"
	KindInsufficientStock       Kind = "insufficient_stock"
	KindInvalidStateTransition  Kind = "invalid_state_transition"
	KindInvalidSignature        Kind = "invalid_signature"
	KindPaymentAlreadyProcessed Kind = "payment_already_processed"
	KindGateway                 Kind = "gateway_error"
	KindTimeout                 Kind = "timeout"
	KindInternal                Kind = "internal"
)

// Error is a classified failure. Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	// Available is set for KindInsufficientStock.
	Available *int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind; the wrapped error is kept for logs only.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error { return New(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) *Error  { return New(KindForbidden, format, args...) }

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidStateTransition, "cannot move order from %s to %s", from, to)
}

func InsufficientStock(productID string, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %s", productID),
		Available: &available,
	}
}

// KindOf returns the classification of err, or KindInternal when it carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var kindToStatus = map[Kind]int{
	KindValidation:              http.StatusBadRequest,
	KindProductUnavailable:      http.StatusBadRequest,
	KindInsufficientStock:       http.StatusBadRequest,
	KindInvalidStateTransition:  http.StatusBadRequest,
	KindInvalidSignature:        http.StatusBadRequest,
	KindPaymentAlreadyProcessed: http.StatusBadRequest,
	KindUnauthorized:            http.StatusUnauthorized,
	KindForbidden:               http.StatusForbidden,
	KindNotFound:                http.StatusNotFound,
	KindGateway:                 http.StatusBadGateway,
	KindTimeout:                 http.StatusGatewayTimeout,
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Body is the JSON error payload written to API callers.
type Body struct {
	Error     string `json:"error"`
	Kind      Kind   `json:"kind"`
	Available *int   `json:"available,omitempty"`
}

// PublicBody renders err without leaking internal detail.
func PublicBody(err error) Body {
	kind := KindOf(err)
	var e *Error
	if kind == KindInternal || !errors.As(err, &e) {
		if kind == KindTimeout {
			return Body{Error: "request timed out", Kind: kind}
		}
		return Body{Error: "internal server error", Kind: KindInternal}
	}
	return Body{Error: e.Message, Kind: e.Kind, Available: e.Available}
}
