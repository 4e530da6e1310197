package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// TradingDate wraps a concrete trading day for price resolution. An absent
// date means "resolve at the current market price".
func TradingDate(date time.Time) optional.Option[time.Time] {
	return optional.Some(date)
}

// MarketSnapshot holds the end-of-day closing prices for one trading day.
type MarketSnapshot struct {
	Date   string                     `json:"date"`
	Prices map[string]decimal.Decimal `json:"prices"`
}

// TradeSide is the direction of a trade instruction.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeInstruction is one symbol/quantity/price triple handed to the ledger by
// the recommendation step. Price is optional; when absent the execution price
// is resolved at trade time.
type TradeInstruction struct {
	Side      TradeSide                        `json:"side"`
	Symbol    string                           `json:"symbol"`
	Quantity  int64                            `json:"quantity"`
	Price     optional.Option[decimal.Decimal] `json:"price,omitempty"`
	Rationale string                           `json:"rationale"`
}
