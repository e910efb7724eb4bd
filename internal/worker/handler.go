package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/email"
	"github.com/joao-fontenele/storefront/internal/messaging"
)

type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

// Deduper remembers which events were already handled. Claim reports false
// when eventID was claimed before.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type NotificationHandler struct {
	mailer  Mailer
	deduper Deduper
	logger  *slog.Logger
	sent    metric.Int64Counter
}

func NewNotificationHandler(mailer Mailer, deduper Deduper, logger *slog.Logger) *NotificationHandler {
	sent, _ := otel.Meter("worker").Int64Counter("notifications.sent",
		metric.WithDescription("Notification emails sent, by event type"))
	return &NotificationHandler{
		mailer:  mailer,
		deduper: deduper,
		logger:  logger,
		sent:    sent,
	}
}

// Handle sends one email per order event. Malformed payloads and unknown
// event types are logged and acknowledged.
func (h *NotificationHandler) Handle(ctx context.Context, d messaging.Delivery) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(d.Value, &event); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed event", "error", err, "key", d.Key)
		return nil
	}

	eventID := d.EventID
	if eventID == "" {
		eventID = event.EventID
	}

	msg, ok := compose(event)
	if !ok {
		h.logger.WarnContext(ctx, "ignoring unknown event type", "type", event.Type, "event_id", eventID)
		return nil
	}

	if eventID != "" {
		first, err := h.deduper.Claim(ctx, eventID)
		if err != nil {
			return fmt.Errorf("claim event %s: %w", eventID, err)
		}
		if !first {
			h.logger.InfoContext(ctx, "skipping duplicate event", "event_id", eventID, "order_id", event.OrderID)
			return nil
		}
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		if eventID != "" {
			if rerr := h.deduper.Release(ctx, eventID); rerr != nil {
				h.logger.ErrorContext(ctx, "failed to release event claim", "error", rerr, "event_id", eventID)
			}
		}
		return fmt.Errorf("send %s email for order %s: %w", event.Type, event.OrderID, err)
	}

	h.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", string(event.Type))))
	h.logger.InfoContext(ctx, "notification sent",
		"event_id", eventID, "type", event.Type, "order_id", event.OrderID, "to", msg.To)
	return nil
}

func compose(e domain.OrderEvent) (email.Message, bool) {
	to := e.Email
	if to == "" {
		to = e.UserID + "@example.com"
	}
	total := e.Total.StringFixed(2) + " " + e.Currency

	msg := email.Message{To: to}
	switch e.Type {
	case domain.EventOrderCreated:
		msg.Subject = "Order received: " + e.OrderNumber
		msg.Body = fmt.Sprintf("We received your order %s with %d items totalling %s. It will be confirmed once payment completes.",
			e.OrderNumber, len(e.Items), total)
	case domain.EventOrderPaid:
		msg.Subject = "Payment confirmed: " + e.OrderNumber
		msg.Body = fmt.Sprintf("Payment of %s for order %s was received. Your order is confirmed.", total, e.OrderNumber)
	case domain.EventOrderCancelled:
		msg.Subject = "Order cancelled: " + e.OrderNumber
		msg.Body = fmt.Sprintf("Your order %s has been cancelled.", e.OrderNumber)
		if e.Note != "" {
			msg.Body += " " + e.Note + "."
		}
	case domain.EventOrderStatusChanged:
		msg.Subject = fmt.Sprintf("Order %s is now %s", e.OrderNumber, e.Status)
		msg.Body = fmt.Sprintf("Your order %s is now %s.", e.OrderNumber, e.Status)
		if e.Note != "" {
			msg.Body += " " + e.Note
		}
	default:
		return email.Message{}, false
	}
	return msg, true
}
