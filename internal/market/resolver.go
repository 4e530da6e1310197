// Package market resolves share prices. A resolver never returns an error:
// an unresolvable symbol yields decimal zero, which callers must treat as a
// sentinel, never as a tradable price.
package market

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// PriceResolver resolves a share price for a symbol. When date is Some, the
// price is the close for that trading date (backtest mode); when None, the
// latest live/EOD price is returned. A result of exactly zero means the
// symbol could not be resolved.
type PriceResolver interface {
	Resolve(ctx context.Context, symbol string, date optional.Option[time.Time]) decimal.Decimal
}

// Source provides raw prices from an external market data vendor. Unlike
// PriceResolver it reports failures as errors; the caching resolver maps
// those to the zero sentinel.
type Source interface {
	// HistoricalClose returns the closing price for a symbol on a given date.
	HistoricalClose(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, error)
	// DailySnapshot returns the latest end-of-day close for every symbol in
	// one bulk call.
	DailySnapshot(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Gate reports whether the market is currently open for trading.
type Gate interface {
	IsOpen(ctx context.Context) (bool, error)
}

// AlwaysOpenGate is a Gate that always permits trading. Used for backtests
// and for runs configured to ignore market hours.
type AlwaysOpenGate struct{}

// IsOpen implements Gate.
func (AlwaysOpenGate) IsOpen(ctx context.Context) (bool, error) {
	return true, nil
}
