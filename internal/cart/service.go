// Package cart holds one mutable cart per user, priced against the live catalog.
package cart

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/pricing"
)

// Store persists cart lines.
type Store interface {
	Lines(ctx context.Context, userID string) ([]domain.CartLine, *time.Time, error)
	Add(ctx context.Context, userID, productID string, quantity int) (int, error)
	Set(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// Catalog looks up products. Get returns nil, nil when the product is absent.
type Catalog interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
}

const maxLineQuantity = 99

type Service struct {
	store   Store
	catalog Catalog
	logger  *slog.Logger
}

func NewService(store Store, catalog Catalog, logger *slog.Logger) *Service {
	return &Service{store: store, catalog: catalog, logger: logger}
}

func (s *Service) Get(ctx context.Context, actor domain.Actor) (*domain.Cart, error) {
	lines, expiresAt, err := s.store.Lines(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	cart := &domain.Cart{
		UserID:    actor.UserID,
		Items:     make([]domain.CartItem, 0, len(lines)),
		Total:     decimal.Zero,
		ExpiresAt: expiresAt,
	}
	for _, line := range lines {
		p, err := s.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		item := domain.CartItem{ProductID: line.ProductID, Quantity: line.Quantity}
		if p != nil {
			item.ProductName = p.Name
			item.UnitPrice = p.Price
			item.LineTotal = pricing.LineTotal(p.Price, line.Quantity)
			item.Available = p.IsActive && p.Available(line.Quantity)
		}
		cart.Items = append(cart.Items, item)
		if item.Available {
			cart.Total = cart.Total.Add(item.LineTotal)
			cart.ItemCount += item.Quantity
		}
	}
	return cart, nil
}

// Add puts quantity units of a product in the cart, on top of any already there.
func (s *Service) Add(ctx context.Context, actor domain.Actor, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	lines, _, err := s.store.Lines(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	total := quantity
	for _, l := range lines {
		if l.ProductID == productID {
			total += l.Quantity
		}
	}
	if err := s.checkProduct(ctx, productID, total); err != nil {
		return nil, err
	}

	if _, err := s.store.Add(ctx, actor.UserID, productID, quantity); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cart item added", "user_id", actor.UserID, "product_id", productID, "quantity", quantity)
	return s.Get(ctx, actor)
}

// Update sets the quantity of a product. Zero or less removes the line.
func (s *Service) Update(ctx context.Context, actor domain.Actor, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return s.Remove(ctx, actor, productID)
	}
	if err := s.checkProduct(ctx, productID, quantity); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, actor.UserID, productID, quantity); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cart item updated", "user_id", actor.UserID, "product_id", productID, "quantity", quantity)
	return s.Get(ctx, actor)
}

func (s *Service) Remove(ctx context.Context, actor domain.Actor, productID string) (*domain.Cart, error) {
	if err := s.store.Remove(ctx, actor.UserID, productID); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cart item removed", "user_id", actor.UserID, "product_id", productID)
	return s.Get(ctx, actor)
}

func (s *Service) Clear(ctx context.Context, actor domain.Actor) error {
	if err := s.store.Clear(ctx, actor.UserID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "cart cleared", "user_id", actor.UserID)
	return nil
}

func (s *Service) checkProduct(ctx context.Context, productID string, quantity int) error {
	if quantity > maxLineQuantity {
		return apperr.Validation("at most %d units per product", maxLineQuantity)
	}
	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return err
	}
	if p == nil || !p.IsActive {
		return apperr.New(apperr.KindProductUnavailable, "product %s is not available", productID)
	}
	if !p.Available(quantity) {
		return apperr.InsufficientStock(productID, p.Stock.Quantity)
	}
	return nil
}
