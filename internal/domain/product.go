package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Certifications struct {
	Halal   bool `json:"halal"`
	Tayyib  bool `json:"tayyib"`
	Organic bool `json:"organic"`
}

type Stock struct {
	Quantity          int  `json:"quantity"`
	LowStockThreshold int  `json:"low_stock_threshold"`
	TrackInventory    bool `json:"track_inventory"`
}

type Product struct {
	ID             string          `json:"id"`
	VendorID       string          `json:"vendor_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Subcategory    string          `json:"subcategory,omitempty"`
	Brand          string          `json:"brand"`
	Price          decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	Tags           []string        `json:"tags"`
	Certifications Certifications  `json:"certifications"`
	Stock          Stock           `json:"stock"`
	IsActive       bool            `json:"is_active"`
	IsFeatured     bool            `json:"is_featured"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available reports whether quantity units can be ordered right now.
func (p *Product) Available(quantity int) bool {
	return !p.Stock.TrackInventory || p.Stock.Quantity >= quantity
}
