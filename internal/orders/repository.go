package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/outbox"
)

// OrderRepository is the Postgres Store.
type OrderRepository struct {
	db    *sql.DB
	topic string
}

// NewOrderRepository stores orders in db and queues their events for topic.
func NewOrderRepository(db *sql.DB, topic string) *OrderRepository {
	return &OrderRepository{db: db, topic: topic}
}

func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &pgTx{
			tx:       tx,
			products: catalog.NewRepository(tx),
			topic:    r.topic,
		})
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, r.db, id, false)
}

func (r *OrderRepository) List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	where, args := orderWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		order.Timeline = []domain.TimelineEntry{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

func (r *OrderRepository) Count(ctx context.Context, f domain.OrderFilter) (int, error) {
	where, args := orderWhere(f)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx, `
		SELECT order_id FROM order_idempotency WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return orderID, err
}

func (r *OrderRepository) FindByIntent(ctx context.Context, intentID string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE payment_intent_id = $1 AND payment_intent_id <> ''
	`, intentID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return orderID, err
}

func orderWhere(f domain.OrderFilter) (string, []any) {
	var (
		clauses = []string{"TRUE"}
		args    []any
	)
	add := func(format string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	return strings.Join(clauses, " AND "), args
}

const orderColumns = `
	id, order_number, user_id, status, shipping_address, billing_address,
	subtotal, shipping, tax, discount, total, currency,
	payment_method, payment_status, payment_intent_id, payment_transaction_id, paid_at,
	tracking_carrier, tracking_number, tracking_url, estimated_delivery,
	cancel_reason, cancelled_by, cancelled_at,
	version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o                         domain.Order
		shipping, billing         []byte
		carrier, number, url      sql.NullString
		estimated, paidAt         sql.NullTime
		cancelReason, cancelledBy sql.NullString
		cancelledAt               sql.NullTime
	)
	err := s.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Status, &shipping, &billing,
		&o.Pricing.Subtotal, &o.Pricing.Shipping, &o.Pricing.Tax, &o.Pricing.Discount, &o.Pricing.Total, &o.Pricing.Currency,
		&o.Payment.Method, &o.Payment.Status, &o.Payment.IntentID, &o.Payment.TransactionID, &paidAt,
		&carrier, &number, &url, &estimated,
		&cancelReason, &cancelledBy, &cancelledAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.Payment.PaidAt = &t
	}
	if number.Valid {
		o.Tracking = &domain.Tracking{
			Carrier:        carrier.String,
			TrackingNumber: number.String,
			TrackingURL:    url.String,
		}
		if estimated.Valid {
			t := estimated.Time
			o.Tracking.EstimatedDelivery = &t
		}
	}
	if cancelledAt.Valid {
		o.Cancellation = &domain.Cancellation{
			Reason:      cancelReason.String,
			RequestedBy: cancelledBy.String,
			RequestedAt: cancelledAt.Time,
		}
	}
	return &o, nil
}

// getOrder loads an order with its items and timeline; lock adds FOR UPDATE.
func getOrder(ctx context.Context, db database.DBTX, id string, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	timelineRows, err := db.QueryContext(ctx, `
		SELECT status, note, actor, created_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = timelineRows.Close() }()

	order.Timeline = []domain.TimelineEntry{}
	for timelineRows.Next() {
		var e domain.TimelineEntry
		if err := timelineRows.Scan(&e.Status, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		order.Timeline = append(order.Timeline, e)
	}
	if err := timelineRows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

type pgTx struct {
	tx       *sql.Tx
	products *catalog.Repository
	topic    string
}

func (t *pgTx) Product(ctx context.Context, id string) (*domain.Product, error) {
	return t.products.Get(ctx, id)
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	return t.products.AdjustStock(ctx, productID, delta)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status, shipping_address, billing_address,
			subtotal, shipping, tax, discount, total, currency,
			payment_method, payment_status, payment_intent_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
	`,
		o.ID, o.Number, o.UserID, string(o.Status), shipping, billing,
		o.Pricing.Subtotal, o.Pricing.Shipping, o.Pricing.Tax, o.Pricing.Discount, o.Pricing.Total, o.Pricing.Currency,
		string(o.Payment.Method), string(o.Payment.Status), o.Payment.IntentID, o.Version, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, product_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), o.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, e := range o.Timeline {
		if err := t.AppendTimeline(ctx, o.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	var (
		carrier, number, url      sql.NullString
		estimated, paidAt         sql.NullTime
		cancelReason, cancelledBy sql.NullString
		cancelledAt               sql.NullTime
	)
	if o.Payment.PaidAt != nil {
		paidAt = sql.NullTime{Time: *o.Payment.PaidAt, Valid: true}
	}
	if tr := o.Tracking; tr != nil {
		carrier = sql.NullString{String: tr.Carrier, Valid: true}
		number = sql.NullString{String: tr.TrackingNumber, Valid: true}
		url = sql.NullString{String: tr.TrackingURL, Valid: true}
		if tr.EstimatedDelivery != nil {
			estimated = sql.NullTime{Time: *tr.EstimatedDelivery, Valid: true}
		}
	}
	if c := o.Cancellation; c != nil {
		cancelReason = sql.NullString{String: c.Reason, Valid: true}
		cancelledBy = sql.NullString{String: c.RequestedBy, Valid: true}
		cancelledAt = sql.NullTime{Time: c.RequestedAt, Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $2,
			payment_status = $3, payment_intent_id = $4, payment_transaction_id = $5, paid_at = $6,
			tracking_carrier = $7, tracking_number = $8, tracking_url = $9, estimated_delivery = $10,
			cancel_reason = $11, cancelled_by = $12, cancelled_at = $13,
			version = version + 1, updated_at = $14
		WHERE id = $1 AND version = $15
	`,
		o.ID, string(o.Status),
		string(o.Payment.Status), o.Payment.IntentID, o.Payment.TransactionID, paidAt,
		carrier, number, url, estimated,
		cancelReason, cancelledBy, cancelledAt,
		o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrVersionConflict
	}
	o.Version++
	return nil
}

func (t *pgTx) AppendTimeline(ctx context.Context, orderID string, e domain.TimelineEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, status, note, actor, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, string(e.Status), e.Note, e.Actor, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, event domain.OrderEvent) error {
	if err := outbox.Insert(ctx, t.tx, event.EventID, t.topic, event.OrderID, event); err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Type, err)
	}
	return nil
}

func (t *pgTx) SaveIdempotencyKey(ctx context.Context, userID, key, orderID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_idempotency (idempotency_key, user_id, order_id) VALUES ($1, $2, $3)
	`, key, userID, orderID)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}
