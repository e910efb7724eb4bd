// Package email is a stand-in mail sender. It accepts messages over HTTP and
// logs them instead of delivering.
package email

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"time"

	"github.com/joao-fontenele/storefront/internal/telemetry"
)

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

type Handler struct {
	logger   *slog.Logger
	maxDelay time.Duration
}

// NewHandler returns a sender that sleeps up to maxDelay per message to mimic
// a slow provider. Zero disables the delay.
func NewHandler(logger *slog.Logger, maxDelay time.Duration) *Handler {
	return &Handler{
		logger:   logger,
		maxDelay: maxDelay,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /send", telemetry.WithHTTPRoute(h.HandleSend))
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if msg.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	if h.maxDelay > 0 {
		select {
		case <-time.After(rand.N(h.maxDelay)):
		case <-r.Context().Done():
			return
		}
	}

	h.logger.InfoContext(r.Context(), "email sent", "to", msg.To, "subject", msg.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
