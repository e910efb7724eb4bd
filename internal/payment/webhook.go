package payment

import (
	"encoding/json"
	"fmt"
)

const EventPaymentCaptured = "payment.captured"

// WebhookEvent is the subset of a gateway webhook the storefront reads.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (e WebhookEvent) PaymentID() string { return e.Payload.Payment.Entity.ID }
func (e WebhookEvent) IntentID() string  { return e.Payload.Payment.Entity.OrderID }
func (e WebhookEvent) Amount() int64     { return e.Payload.Payment.Entity.Amount }

func ParseWebhook(body []byte) (WebhookEvent, error) {
	var e WebhookEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	return e, nil
}
