// Package orders turns carts into orders and drives them through payment,
// fulfilment and cancellation.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/payment"
	"github.com/joao-fontenele/storefront/internal/pricing"
)

const (
	defaultCarrier     = "Standard Shipping"
	trackingURLPrefix  = "https://track.example.com/"
	defaultPageLimit   = 10
	maxPageLimit       = 100
	noteOrderPlaced    = "Order placed"
	notePaymentConfirm = "Payment confirmed"
	noteRefundDue      = "Payment received after cancellation, refund due"
)

// Carts is the part of the cart store checkout needs.
type Carts interface {
	Lines(ctx context.Context, userID string) ([]domain.CartLine, *time.Time, error)
	Clear(ctx context.Context, userID string) error
}

// Gateway creates payment intents with the hosted payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*payment.Intent, error)
	KeyID() string
}

type Config struct {
	Pricing       pricing.Rules
	KeySecret     string
	WebhookSecret string
}

type Service struct {
	store   Store
	carts   Carts
	gateway Gateway
	cfg     Config
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	placed            metric.Int64Counter
	paymentsConfirmed metric.Int64Counter
	signatureFailures metric.Int64Counter
	cancelled         metric.Int64Counter
}

func NewService(store Store, carts Carts, gateway Gateway, cfg Config, logger *slog.Logger) *Service {
	meter := otel.Meter("orders")
	placed, _ := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created by checkout"))
	paymentsConfirmed, _ := meter.Int64Counter("orders.payments.confirmed",
		metric.WithDescription("Gateway payments verified and applied"))
	signatureFailures, _ := meter.Int64Counter("orders.payments.signature_failures",
		metric.WithDescription("Payment callbacks rejected for a bad signature"))
	cancelled, _ := meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled with stock restored"))

	return &Service{
		store:             store,
		carts:             carts,
		gateway:           gateway,
		cfg:               cfg,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
		placed:            placed,
		paymentsConfirmed: paymentsConfirmed,
		signatureFailures: signatureFailures,
		cancelled:         cancelled,
	}
}

type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	Items           []LineRequest        `json:"items"`
	ShippingAddress *domain.Address      `json:"shipping_address"`
	BillingAddress  *domain.Address      `json:"billing_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	// IdempotencyKey makes a retried checkout return the first order.
	IdempotencyKey string `json:"-"`
}

func (req *CheckoutRequest) normalize() error {
	if len(req.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}

	merged := make([]LineRequest, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for _, l := range req.Items {
		l.ProductID = strings.TrimSpace(l.ProductID)
		if l.ProductID == "" {
			return apperr.Validation("every item needs a product_id")
		}
		if l.Quantity < 1 {
			return apperr.Validation("quantity for product %s must be at least 1", l.ProductID)
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	req.Items = merged

	if req.ShippingAddress == nil {
		return apperr.Validation("shipping address is required")
	}
	if missing := req.ShippingAddress.Missing(); len(missing) > 0 {
		return apperr.Validation("shipping address is missing: %s", strings.Join(missing, ", "))
	}
	if req.BillingAddress == nil {
		billing := *req.ShippingAddress
		req.BillingAddress = &billing
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodGateway
	}
	if !req.PaymentMethod.Valid() {
		return apperr.Validation("unsupported payment method %q", req.PaymentMethod)
	}
	return nil
}

// Checkout prices the requested lines against the catalog, takes their stock
// and records a pending order, all in one transaction.
func (s *Service) Checkout(ctx context.Context, actor domain.Actor, req CheckoutRequest) (*domain.Order, error) {
	if actor.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if order, err := s.replay(ctx, actor, req.IdempotencyKey); order != nil || err != nil {
			return order, err
		}
	}

	now := s.now()
	order := &domain.Order{
		ID:              s.newID(),
		UserID:          actor.UserID,
		ShippingAddress: *req.ShippingAddress,
		BillingAddress:  *req.BillingAddress,
		Payment: domain.Payment{
			Method: req.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Status:    domain.OrderStatusPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Timeline: []domain.TimelineEntry{
			{Status: domain.OrderStatusPending, Note: noteOrderPlaced, Actor: actor.UserID, CreatedAt: now},
		},
	}
	order.Number = orderNumber(now, order.ID)

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		subtotal := decimal.Zero
		items := make([]domain.OrderItem, 0, len(req.Items))

		for _, line := range req.Items {
			p, err := tx.Product(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if p == nil || !p.IsActive {
				return apperr.New(apperr.KindProductUnavailable, "product %s is not available", line.ProductID)
			}

			if p.Stock.TrackInventory {
				if _, err := tx.AdjustStock(ctx, p.ID, -line.Quantity); err != nil {
					if errors.Is(err, catalog.ErrInsufficientStock) {
						return s.insufficientStock(ctx, tx, p)
					}
					return err
				}
			}

			lineTotal := pricing.LineTotal(p.Price, line.Quantity)
			subtotal = subtotal.Add(lineTotal)
			items = append(items, domain.OrderItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    line.Quantity,
				UnitPrice:   p.Price,
				LineTotal:   lineTotal,
			})
		}

		order.Items = items
		order.Pricing = s.cfg.Pricing.Quote(subtotal)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, domain.NewOrderEvent(s.newID(), domain.EventOrderCreated, order, noteOrderPlaced, now)); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			return tx.SaveIdempotencyKey(ctx, actor.UserID, req.IdempotencyKey, order.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key won; hand back its order.
			replayed, err := s.replay(ctx, actor, req.IdempotencyKey)
			if err == nil && replayed == nil {
				err = apperr.New(apperr.KindInternal, "internal server error")
			}
			return replayed, err
		}
		return nil, s.classify(ctx, err, "checkout failed", "user_id", actor.UserID)
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(order.Payment.Method))))
	s.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"order_number", order.Number,
		"user_id", order.UserID,
		"total", order.Pricing.Total.StringFixed(2),
		"payment_method", order.Payment.Method,
	)

	if err := s.carts.Clear(ctx, actor.UserID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear cart after checkout", "error", err, "user_id", actor.UserID)
	}

	return order, nil
}

// CheckoutFromCart places an order for the current contents of the actor's cart.
func (s *Service) CheckoutFromCart(ctx context.Context, actor domain.Actor, req CheckoutRequest) (*domain.Order, error) {
	if actor.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}

	lines, _, err := s.carts.Lines(ctx, actor.UserID)
	if err != nil {
		return nil, s.classify(ctx, err, "failed to read cart", "user_id", actor.UserID)
	}

	items := make([]LineRequest, 0, len(lines))
	for _, l := range lines {
		if l.Quantity > 0 {
			items = append(items, LineRequest{ProductID: l.ProductID, Quantity: l.Quantity})
		}
	}
	req.Items = items
	if len(req.Items) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	return s.Checkout(ctx, actor, req)
}

func (s *Service) replay(ctx context.Context, actor domain.Actor, key string) (*domain.Order, error) {
	orderID, err := s.store.FindByIdempotencyKey(ctx, actor.UserID, key)
	if err != nil {
		return nil, s.classify(ctx, err, "idempotency lookup failed", "user_id", actor.UserID)
	}
	if orderID == "" {
		return nil, nil
	}
	s.logger.InfoContext(ctx, "checkout replayed", "order_id", orderID, "user_id", actor.UserID)
	return s.Get(ctx, actor, orderID)
}

func (s *Service) insufficientStock(ctx context.Context, tx Tx, p *domain.Product) error {
	available := p.Stock.Quantity
	if current, err := tx.Product(ctx, p.ID); err == nil && current != nil {
		available = current.Stock.Quantity
	}
	return apperr.InsufficientStock(p.ID, available)
}

// PaymentIntent is what a client needs to open the gateway checkout.
type PaymentIntent struct {
	IntentID    string `json:"intent_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
	OrderNumber string `json:"order_number"`
}

// InitiatePayment registers the order total with the payment gateway and
// keeps the intent id so that verification can only succeed for it.
func (s *Service) InitiatePayment(ctx context.Context, actor domain.Actor, orderID string) (*PaymentIntent, error) {
	order, err := s.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if err := payable(order); err != nil {
		return nil, err
	}

	amount := pricing.MinorUnits(order.Pricing.Total)
	// Pricing is fixed at checkout; an open intent is handed out again.
	if order.Payment.IntentID != "" {
		return s.paymentIntent(order, order.Payment.IntentID, amount), nil
	}

	intent, err := s.gateway.CreateIntent(ctx, amount, order.Pricing.Currency, order.Number, map[string]string{
		"order_id": order.ID,
		"user_id":  order.UserID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "payment intent creation failed", "error", err, "order_id", order.ID)
		if !payment.IsGatewayError(err) {
			return nil, apperr.Wrap(apperr.KindInternal, err, "failed to create payment intent")
		}
		return nil, apperr.Wrap(apperr.KindGateway, err, "payment gateway unavailable, try again")
	}

	intentID := intent.ID
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return apperr.NotFound("order not found")
		}
		if err := payable(locked); err != nil {
			return err
		}
		if locked.Payment.IntentID != "" {
			// A concurrent call won; keep its intent.
			intentID = locked.Payment.IntentID
			return nil
		}
		locked.Payment.IntentID = intent.ID
		locked.UpdatedAt = s.now()
		return tx.UpdateOrder(ctx, locked)
	})
	if err != nil {
		return nil, s.classify(ctx, err, "failed to record payment intent", "order_id", order.ID)
	}

	s.logger.InfoContext(ctx, "payment intent created", "order_id", order.ID, "intent_id", intentID, "amount", amount)
	return s.paymentIntent(order, intentID, amount), nil
}

func (s *Service) paymentIntent(order *domain.Order, intentID string, amount int64) *PaymentIntent {
	return &PaymentIntent{
		IntentID:    intentID,
		Amount:      amount,
		Currency:    order.Pricing.Currency,
		KeyID:       s.gateway.KeyID(),
		OrderNumber: order.Number,
	}
}

func payable(o *domain.Order) error {
	if o.Payment.Method != domain.PaymentMethodGateway {
		return apperr.Validation("order is not paid through the gateway")
	}
	if o.Payment.Status.Captured() {
		return apperr.New(apperr.KindPaymentAlreadyProcessed, "order is already paid")
	}
	if o.Status == domain.OrderStatusCancelled {
		return apperr.InvalidTransition(string(o.Status), string(domain.OrderStatusConfirmed))
	}
	return nil
}

type VerifyRequest struct {
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// VerifyPayment confirms an order from the signed gateway callback. Nothing
// the client sends is trusted beyond what the signature covers.
func (s *Service) VerifyPayment(ctx context.Context, actor domain.Actor, orderID string, req VerifyRequest) (*domain.Order, error) {
	if req.IntentID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, apperr.Validation("intent_id, payment_id and signature are required")
	}

	order, err := s.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}

	if !payment.Verify(s.cfg.KeySecret, req.IntentID, req.PaymentID, req.Signature) || order.Payment.IntentID != req.IntentID {
		s.signatureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "checkout")))
		s.logger.WarnContext(ctx, "payment signature rejected",
			"security_event", true,
			"order_id", order.ID,
			"user_id", actor.UserID,
			"intent_id", req.IntentID,
			"payment_id", req.PaymentID,
		)
		return nil, apperr.New(apperr.KindInvalidSignature, "payment signature verification failed")
	}

	return s.confirmPayment(ctx, order.ID, req.IntentID, req.PaymentID, actor.UserID)
}

// HandleWebhook applies a server-to-server gateway notification. body must be
// the raw request body the signature was computed over.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !payment.VerifyWebhook(s.cfg.WebhookSecret, body, signature) {
		s.signatureFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "webhook")))
		s.logger.WarnContext(ctx, "webhook signature rejected", "security_event", true)
		return apperr.New(apperr.KindInvalidSignature, "webhook signature verification failed")
	}

	event, err := payment.ParseWebhook(body)
	if err != nil {
		return apperr.Validation("malformed webhook payload")
	}
	if event.Event != payment.EventPaymentCaptured {
		s.logger.InfoContext(ctx, "webhook ignored", "event", event.Event)
		return nil
	}

	orderID, err := s.store.FindByIntent(ctx, event.IntentID())
	if err != nil {
		return s.classify(ctx, err, "webhook order lookup failed", "intent_id", event.IntentID())
	}
	if orderID == "" {
		return apperr.NotFound("no order for intent %s", event.IntentID())
	}

	_, err = s.confirmPayment(ctx, orderID, event.IntentID(), event.PaymentID(), domain.ActorGateway)
	if apperr.Is(err, apperr.KindPaymentAlreadyProcessed) {
		return nil
	}
	return err
}

func (s *Service) confirmPayment(ctx context.Context, orderID, intentID, paymentID, actorID string) (*domain.Order, error) {
	var confirmed *domain.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return apperr.NotFound("order not found")
		}
		if order.Payment.Status.Captured() {
			return apperr.New(apperr.KindPaymentAlreadyProcessed, "order is already paid")
		}
		if order.Payment.IntentID != intentID {
			return apperr.New(apperr.KindInvalidSignature, "payment does not belong to this order")
		}

		// A captured payment is always recorded. Only a pending order moves
		// to confirmed; a cancelled one keeps its status and owes a refund.
		now := s.now()
		order.Payment.Status = domain.PaymentStatusPaid
		order.Payment.TransactionID = paymentID
		order.Payment.PaidAt = &now
		order.UpdatedAt = now
		note := notePaymentConfirm
		switch order.Status {
		case domain.OrderStatusPending:
			order.Status = domain.OrderStatusConfirmed
		case domain.OrderStatusCancelled:
			order.Payment.Status = domain.PaymentStatusRefundDue
			note = noteRefundDue
		}

		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		entry := domain.TimelineEntry{Status: order.Status, Note: note, Actor: actorID, CreatedAt: now}
		if err := tx.AppendTimeline(ctx, order.ID, entry); err != nil {
			return err
		}
		order.Timeline = append(order.Timeline, entry)

		confirmed = order
		return tx.Enqueue(ctx, domain.NewOrderEvent(s.newID(), domain.EventOrderPaid, order, note, now))
	})
	if err != nil {
		return nil, s.classify(ctx, err, "payment confirmation failed", "order_id", orderID)
	}

	s.paymentsConfirmed.Add(ctx, 1)
	s.logger.InfoContext(ctx, "payment confirmed", "order_id", confirmed.ID, "payment_id", paymentID, "actor", actorID)
	return confirmed, nil
}

// Cancel cancels the actor's own order and puts its stock back.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, orderID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Cancelled by customer"
	}
	return s.transition(ctx, actor, orderID, domain.OrderStatusCancelled, fmt.Sprintf("Order cancelled: %s", reason), reason, nil, true)
}

type StatusUpdate struct {
	Status            domain.OrderStatus `json:"status"`
	Note              string             `json:"note"`
	Carrier           string             `json:"carrier"`
	TrackingNumber    string             `json:"tracking_number"`
	EstimatedDelivery *time.Time         `json:"estimated_delivery"`
}

// UpdateStatus moves an order along the fulfilment state machine. Admin only.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, orderID string, upd StatusUpdate) (*domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	if !upd.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", upd.Status)
	}

	note := strings.TrimSpace(upd.Note)
	if note == "" {
		note = fmt.Sprintf("Status updated to %s", upd.Status)
	}
	reason := note
	if upd.Status == domain.OrderStatusCancelled && strings.TrimSpace(upd.Note) == "" {
		reason = "Cancelled by admin"
		note = "Order cancelled: " + reason
	}
	return s.transition(ctx, actor, orderID, upd.Status, note, reason, &upd, false)
}

func (s *Service) transition(ctx context.Context, actor domain.Actor, orderID string, next domain.OrderStatus, note, reason string, upd *StatusUpdate, ownerOnly bool) (*domain.Order, error) {
	var updated *domain.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return apperr.NotFound("order not found")
		}
		if ownerOnly && !actor.Owns(order.UserID) {
			return apperr.Forbidden("order belongs to another user")
		}
		if !order.Status.CanTransitionTo(next) {
			return apperr.InvalidTransition(string(order.Status), string(next))
		}

		now := s.now()
		order.Status = next
		order.UpdatedAt = now
		eventType := domain.EventOrderStatusChanged

		switch next {
		case domain.OrderStatusShipped:
			order.Tracking = tracking(upd, s.newID)
		case domain.OrderStatusCancelled:
			eventType = domain.EventOrderCancelled
			order.Cancellation = &domain.Cancellation{Reason: reason, RequestedBy: actor.UserID, RequestedAt: now}
			for _, item := range order.Items {
				if _, err := tx.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil && !errors.Is(err, catalog.ErrNotFound) {
					return fmt.Errorf("restore stock for %s: %w", item.ProductID, err)
				}
			}
		}

		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		entry := domain.TimelineEntry{Status: next, Note: note, Actor: actor.UserID, CreatedAt: now}
		if err := tx.AppendTimeline(ctx, order.ID, entry); err != nil {
			return err
		}
		order.Timeline = append(order.Timeline, entry)

		updated = order
		return tx.Enqueue(ctx, domain.NewOrderEvent(s.newID(), eventType, order, note, now))
	})
	if err != nil {
		return nil, s.classify(ctx, err, "order status change failed", "order_id", orderID, "status", next)
	}

	if next == domain.OrderStatusCancelled {
		s.cancelled.Add(ctx, 1)
	}
	s.logger.InfoContext(ctx, "order status changed", "order_id", updated.ID, "status", next, "actor", actor.UserID)
	return updated, nil
}

func tracking(upd *StatusUpdate, newID func() string) *domain.Tracking {
	t := &domain.Tracking{Carrier: defaultCarrier}
	if upd != nil {
		if c := strings.TrimSpace(upd.Carrier); c != "" {
			t.Carrier = c
		}
		t.TrackingNumber = strings.TrimSpace(upd.TrackingNumber)
		t.EstimatedDelivery = upd.EstimatedDelivery
	}
	if t.TrackingNumber == "" {
		suffix := strings.ToUpper(strings.ReplaceAll(newID(), "-", ""))
		if len(suffix) > 10 {
			suffix = suffix[:10]
		}
		t.TrackingNumber = "TRK" + suffix
	}
	t.TrackingURL = trackingURLPrefix + t.TrackingNumber
	return t
}

// Get returns an order visible to the actor: its owner or an admin.
func (s *Service) Get(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, s.classify(ctx, err, "failed to get order", "order_id", orderID)
	}
	if order == nil {
		return nil, apperr.NotFound("order not found")
	}
	if !actor.IsAdmin() && !actor.Owns(order.UserID) {
		return nil, apperr.Forbidden("order belongs to another user")
	}
	return order, nil
}

// Page is one page of a listing plus the size of the full result.
type Page struct {
	Orders []domain.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Pages  int            `json:"pages"`
}

// List returns the actor's own orders.
func (s *Service) List(ctx context.Context, actor domain.Actor, f domain.OrderFilter) (*Page, error) {
	if actor.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	f.UserID = actor.UserID
	return s.list(ctx, f)
}

// ListAll returns orders of every user, optionally narrowed by f.UserID. Admin only.
func (s *Service) ListAll(ctx context.Context, actor domain.Actor, f domain.OrderFilter) (*Page, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin access required")
	}
	return s.list(ctx, f)
}

func (s *Service) list(ctx context.Context, f domain.OrderFilter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperr.Validation("from must not be after to")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}

	orders, total, err := listAndCount(ctx, s.store, f)
	if err != nil {
		return nil, s.classify(ctx, err, "failed to list orders")
	}
	return &Page{
		Orders: orders,
		Total:  total,
		Page:   f.Page,
		Limit:  f.Limit,
		Pages:  (total + f.Limit - 1) / f.Limit,
	}, nil
}

// classify passes classified errors through and logs anything else before
// hiding it behind KindInternal.
func (s *Service) classify(ctx context.Context, err error, msg string, attrs ...any) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.WarnContext(ctx, msg, append(attrs, "error", err)...)
		return apperr.Wrap(apperr.KindTimeout, err, "request timed out")
	}
	s.logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
	return apperr.Wrap(apperr.KindInternal, err, "internal server error")
}

// orderNumber is the human reference printed on receipts.
func orderNumber(at time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), suffix)
}

// listAndCount runs the page query and the count query concurrently.
func listAndCount(ctx context.Context, store Store, f domain.OrderFilter) ([]domain.Order, int, error) {
	var (
		orders []domain.Order
		total  int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = store.List(ctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = store.Count(ctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
