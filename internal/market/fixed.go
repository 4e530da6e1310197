package market

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// FixedResolver resolves every symbol from a static price table, regardless
// of date. Symbols not in the table resolve to the zero sentinel. Useful for
// offline simulations and tests.
type FixedResolver struct {
	prices map[string]decimal.Decimal
}

func NewFixedResolver(prices map[string]decimal.Decimal) *FixedResolver {
	if prices == nil {
		prices = make(map[string]decimal.Decimal)
	}

	return &FixedResolver{prices: prices}
}

// SetPrice sets or replaces the price for a symbol.
func (r *FixedResolver) SetPrice(symbol string, price decimal.Decimal) {
	r.prices[symbol] = price
}

// Resolve implements PriceResolver.
func (r *FixedResolver) Resolve(ctx context.Context, symbol string, date optional.Option[time.Time]) decimal.Decimal {
	price, ok := r.prices[symbol]
	if !ok {
		return decimal.Zero
	}

	return price
}
