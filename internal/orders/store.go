package orders

import (
	"context"
	"errors"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	// ErrDuplicateIdempotencyKey is returned by Tx.SaveIdempotencyKey when the
	// user already placed an order with the key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrVersionConflict is returned by Tx.UpdateOrder when the stored version
	// no longer matches the order being saved.
	ErrVersionConflict = errors.New("order version conflict")
)

// Store is the order persistence used by the workflow. Every mutation runs
// through InTx; when fn returns an error nothing it did is kept.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
	Count(ctx context.Context, f domain.OrderFilter) (int, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (string, error)
	FindByIntent(ctx context.Context, intentID string) (string, error)
}

// Tx is the set of operations available inside one storage transaction.
type Tx interface {
	// Product returns nil, nil for an unknown id.
	Product(ctx context.Context, id string) (*domain.Product, error)
	// AdjustStock changes stock of a tracked product atomically; a decrement
	// below zero returns catalog.ErrInsufficientStock.
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)

	InsertOrder(ctx context.Context, order *domain.Order) error
	// LockOrder reads the order and holds it against concurrent writers until
	// the transaction ends. Returns nil, nil for an unknown id.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	// UpdateOrder persists the mutable fields of order and bumps its version.
	UpdateOrder(ctx context.Context, order *domain.Order) error
	AppendTimeline(ctx context.Context, orderID string, entry domain.TimelineEntry) error

	Enqueue(ctx context.Context, event domain.OrderEvent) error
	SaveIdempotencyKey(ctx context.Context, userID, key, orderID string) error
}
