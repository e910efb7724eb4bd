package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRules_Quote(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name     string
		subtotal string
		shipping string
		tax      string
		total    string
	}{
		{"small order pays flat shipping", "30.00", "50", "1.50", "81.50"},
		{"exactly at threshold still pays shipping", "500", "50", "25", "575"},
		{"above threshold ships free", "500.01", "0", "25.00", "525.01"},
		{"tax rounds half up", "10.10", "50", "0.51", "60.61"},
		{"zero subtotal", "0", "50", "0", "50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := rules.Quote(d(tt.subtotal))

			assert.True(t, p.Shipping.Equal(d(tt.shipping)), "shipping %s", p.Shipping)
			assert.True(t, p.Tax.Equal(d(tt.tax)), "tax %s", p.Tax)
			assert.True(t, p.Total.Equal(d(tt.total)), "total %s", p.Total)
			assert.True(t, p.Total.Equal(p.Subtotal.Add(p.Shipping).Add(p.Tax).Sub(p.Discount)))
			assert.Equal(t, "INR", p.Currency)
		})
	}
}

func TestLineTotal(t *testing.T) {
	assert.True(t, LineTotal(d("10.00"), 3).Equal(d("30")))
	assert.True(t, LineTotal(d("2.49"), 0).IsZero())
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(8150), MinorUnits(d("81.50")))
	assert.Equal(t, int64(60061), MinorUnits(d("600.61")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}
