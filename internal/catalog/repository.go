package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/database"
	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Repository stores products in Postgres. Bound to a *sql.Tx it takes part in
// the caller's transaction.
type Repository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const productColumns = `
	id, vendor_id, name, description, category, subcategory, brand,
	price, original_price, tags, halal_certified, tayyib_verified, organic_certified,
	stock_quantity, low_stock_threshold, track_inventory, is_active, is_featured,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*domain.Product, error) {
	p := &domain.Product{}
	var tags pq.StringArray
	err := s.Scan(
		&p.ID, &p.VendorID, &p.Name, &p.Description, &p.Category, &p.Subcategory, &p.Brand,
		&p.Price, &p.OriginalPrice, &tags,
		&p.Certifications.Halal, &p.Certifications.Tayyib, &p.Certifications.Organic,
		&p.Stock.Quantity, &p.Stock.LowStockThreshold, &p.Stock.TrackInventory,
		&p.IsActive, &p.IsFeatured, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Tags = []string(tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

// Get returns nil, nil when no product has the id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// List returns one page of products matching f and the total match count.
func (r *Repository) List(ctx context.Context, f Filter) ([]domain.Product, int, error) {
	where, args := f.where()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		productColumns, where, f.orderBy(), len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

func (r *Repository) Create(ctx context.Context, p *domain.Product) error {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO products (
			id, vendor_id, name, description, category, subcategory, brand,
			price, original_price, tags, halal_certified, tayyib_verified, organic_certified,
			stock_quantity, low_stock_threshold, track_inventory, is_active, is_featured
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`,
		p.ID, p.VendorID, p.Name, p.Description, p.Category, p.Subcategory, p.Brand,
		p.Price, p.OriginalPrice, pq.Array(tags),
		p.Certifications.Halal, p.Certifications.Tayyib, p.Certifications.Organic,
		p.Stock.Quantity, p.Stock.LowStockThreshold, p.Stock.TrackInventory,
		p.IsActive, p.IsFeatured,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// Update writes the editable fields of p. Stock quantity and visibility have
// their own operations and are left alone.
func (r *Repository) Update(ctx context.Context, p *domain.Product) error {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	err := r.db.QueryRowContext(ctx, `
		UPDATE products SET
			name = $2, description = $3, category = $4, subcategory = $5, brand = $6,
			price = $7, original_price = $8, tags = $9,
			halal_certified = $10, tayyib_verified = $11, organic_certified = $12,
			low_stock_threshold = $13, track_inventory = $14, is_featured = $15,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		p.ID, p.Name, p.Description, p.Category, p.Subcategory, p.Brand,
		p.Price, p.OriginalPrice, pq.Array(tags),
		p.Certifications.Halal, p.Certifications.Tayyib, p.Certifications.Organic,
		p.Stock.LowStockThreshold, p.Stock.TrackInventory, p.IsFeatured,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustStock atomically adds delta to the stock of a tracked product and
// returns the resulting quantity. A decrement that would go below zero fails
// with ErrInsufficientStock and leaves the row untouched. Untracked products
// are left as they are.
func (r *Repository) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	var quantity int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = CASE WHEN track_inventory THEN stock_quantity + $2 ELSE stock_quantity END,
		    updated_at = NOW()
		WHERE id = $1 AND (NOT track_inventory OR stock_quantity + $2 >= 0)
		RETURNING stock_quantity
	`, id, delta).Scan(&quantity)
	if err == nil {
		return quantity, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// Zero rows: either the product is gone or the stock is short.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrInsufficientStock
}
