package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderPaid          EventType = "order.paid"
	EventOrderCancelled     EventType = "order.cancelled"
	EventOrderStatusChanged EventType = "order.status_changed"
)

type OrderEvent struct {
	EventID     string          `json:"event_id"`
	Type        EventType       `json:"type"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Email       string          `json:"email,omitempty"`
	Status      OrderStatus     `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Items       []OrderItem     `json:"items"`
	Note        string          `json:"note,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewOrderEvent captures the state of order at the moment of a transition.
func NewOrderEvent(eventID string, typ EventType, order *Order, note string, at time.Time) OrderEvent {
	return OrderEvent{
		EventID:     eventID,
		Type:        typ,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Email:       order.ShippingAddress.Email,
		Status:      order.Status,
		Total:       order.Pricing.Total,
		Currency:    order.Pricing.Currency,
		Items:       order.Items,
		Note:        note,
		Timestamp:   at,
	}
}
