// Package pricing computes order totals from a subtotal.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type Rules struct {
	// Orders strictly above this subtotal ship for free.
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal
	Currency              string
}

func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: decimal.NewFromInt(500),
		FlatShippingFee:       decimal.NewFromInt(50),
		TaxRate:               decimal.RequireFromString("0.05"),
		Currency:              "INR",
	}
}

// LineTotal is price × quantity.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Quote prices a subtotal. Tax is rounded half-up to two places so the total is
// always a whole number of minor units.
func (r Rules) Quote(subtotal decimal.Decimal) domain.Pricing {
	shipping := r.FlatShippingFee
	if subtotal.GreaterThan(r.FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := subtotal.Mul(r.TaxRate).Round(2)
	discount := decimal.Zero

	return domain.Pricing{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal.Add(shipping).Add(tax).Sub(discount),
		Currency: r.Currency,
	}
}

// MinorUnits converts an amount to the integer unit gateways charge in (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
