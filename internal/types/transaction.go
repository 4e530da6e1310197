package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single executed trade. Quantity is signed: positive for a
// buy, negative for a sell. Transactions are append-only and never mutated.
type Transaction struct {
	Symbol    string          `json:"symbol" yaml:"symbol"`
	Quantity  int64           `json:"quantity" yaml:"quantity"`
	Price     decimal.Decimal `json:"price" yaml:"price"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Rationale string          `json:"rationale" yaml:"rationale"`
}

// Notional returns the signed trade value, quantity times execution price.
func (t Transaction) Notional() decimal.Decimal {
	return decimal.NewFromInt(t.Quantity).Mul(t.Price)
}

// String describes the trade without its sign, e.g. "10 shares of AAPL at 100.2 each".
func (t Transaction) String() string {
	qty := t.Quantity
	if qty < 0 {
		qty = -qty
	}

	return fmt.Sprintf("%d shares of %s at %s each", qty, t.Symbol, t.Price)
}
