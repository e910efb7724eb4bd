// Package paysim is a local stand-in for the hosted payment gateway. It issues
// intents, lets a test client "pay" them, and fires the signed capture webhook.
package paysim

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/payment"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const (
	statusCreated = "created"
	statusPaid    = "paid"
)

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookURL    string
	WebhookSecret string
}

type Server struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	newID  func() string

	mu      sync.Mutex
	intents map[string]*payment.Intent
}

func NewServer(cfg Config, client *http.Client, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		newID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:14] },
		intents: make(map[string]*payment.Intent),
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/orders", telemetry.WithHTTPRoute(s.authenticated(s.handleCreate)))
	mux.HandleFunc("GET /v1/orders/{id}", telemetry.WithHTTPRoute(s.authenticated(s.handleGet)))
	mux.HandleFunc("POST /v1/orders/{id}/pay", telemetry.WithHTTPRoute(s.handlePay))
}

type createRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "invalid request body")
		return
	}
	if req.Amount < 100 {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "Order amount less than minimum amount allowed")
		return
	}
	if req.Currency == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "currency is required")
		return
	}

	intent := &payment.Intent{
		ID:       "order_" + s.newID(),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   statusCreated,
	}

	s.mu.Lock()
	s.intents[intent.ID] = intent
	s.mu.Unlock()

	s.logger.InfoContext(r.Context(), "intent created", "intent_id", intent.ID, "amount", intent.Amount, "receipt", intent.Receipt)
	s.writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	intent, ok := s.intent(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "BAD_REQUEST_ERROR", "The id provided does not exist")
		return
	}
	s.writeJSON(w, http.StatusOK, intent)
}

// PayResult is what the hosted checkout hands back to the browser.
type PayResult struct {
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// handlePay captures the intent as if the customer completed checkout.
func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	intent, ok := s.intents[id]
	var snapshot payment.Intent
	paid := false
	if ok {
		paid = intent.Status == statusPaid
		intent.Status = statusPaid
		snapshot = *intent
	}
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "BAD_REQUEST_ERROR", "The id provided does not exist")
		return
	}
	if paid {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST_ERROR", "This order has already been paid")
		return
	}

	paymentID := "pay_" + s.newID()
	result := PayResult{
		IntentID:  id,
		PaymentID: paymentID,
		Signature: payment.Sign(s.cfg.KeySecret, id, paymentID),
	}

	if s.cfg.WebhookURL != "" {
		if err := s.sendCaptured(r.Context(), snapshot, paymentID); err != nil {
			s.logger.WarnContext(r.Context(), "webhook delivery failed", "error", err, "intent_id", id)
		}
	}

	s.logger.InfoContext(r.Context(), "intent paid", "intent_id", id, "payment_id", paymentID)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) sendCaptured(ctx context.Context, intent payment.Intent, paymentID string) error {
	var event payment.WebhookEvent
	event.Event = payment.EventPaymentCaptured
	event.Payload.Payment.Entity.ID = paymentID
	event.Payload.Payment.Entity.OrderID = intent.ID
	event.Payload.Payment.Entity.Amount = intent.Amount
	event.Payload.Payment.Entity.Status = "captured"

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payment-Signature", payment.SignWebhook(s.cfg.WebhookSecret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Server) intent(id string) (payment.Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return payment.Intent{}, false
	}
	return *intent, true
}

func (s *Server) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.KeyID)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.KeySecret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "BAD_REQUEST_ERROR", "Authentication failed")
			return
		}
		h(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, description string) {
	s.writeJSON(w, status, map[string]map[string]string{
		"error": {"code": code, "description": description},
	})
}
