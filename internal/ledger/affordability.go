package ledger

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/paperfleet/paperfleet/pkg/errors"
)

// MaxQuantity returns the largest whole-share quantity of the given price
// that the balance covers, spread and commission included. Returns zero for
// a non-positive price or balance.
func MaxQuantity(balance decimal.Decimal, price decimal.Decimal, spread decimal.Decimal, feeRate decimal.Decimal) int64 {
	if price.LessThanOrEqual(decimal.Zero) || balance.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	// Per-share cost is exec price plus its commission, so the maximum
	// quantity solves directly without iteration.
	execPrice := price.Mul(decimal.NewFromInt(1).Add(spread))
	perShare := execPrice.Add(execPrice.Mul(feeRate))

	return balance.Div(perShare).Floor().IntPart()
}

// BuyingPower reports how many shares of symbol the entity could buy right
// now with its cash balance.
func (l *Ledger) BuyingPower(ctx context.Context, name string, symbol string, date optional.Option[time.Time]) (int64, error) {
	account, err := l.Get(name)
	if err != nil {
		return 0, err
	}

	price := l.resolver.Resolve(ctx, symbol, date)
	if price.IsZero() {
		return 0, errors.Newf(errors.ErrCodeUnknownSymbol, "unrecognized symbol %s", symbol)
	}

	return MaxQuantity(account.Balance, price, l.cfg.Spread, l.cfg.FeeRate), nil
}
