package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical layout for trading dates.
const DateLayout = "2006-01-02"

// Account is the full bookkeeping state of one trading entity. Accounts are
// keyed by lower-cased name; Key normalizes the lookup key.
type Account struct {
	Name string `json:"name" yaml:"name"`
	// Balance is the cash balance. It never goes negative after any operation.
	Balance  decimal.Decimal `json:"balance" yaml:"balance"`
	Strategy string          `json:"strategy" yaml:"strategy"`
	// Holdings maps symbol to share quantity. Quantities are always positive;
	// a position sold down to zero is removed from the map entirely.
	Holdings     map[string]int64 `json:"holdings" yaml:"holdings"`
	Transactions []Transaction    `json:"transactions" yaml:"transactions"`
	// ValuationSeries records (timestamp, total value) pairs, one appended per report.
	ValuationSeries []ValuationPoint `json:"valuation_series" yaml:"valuation_series"`
}

// ValuationPoint is one sample of the account's total value over time.
type ValuationPoint struct {
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Value     decimal.Decimal `json:"value" yaml:"value"`
}

// NewAccount returns a fresh account with the given starting balance and no
// holdings, transactions, or valuation history.
func NewAccount(name string, startingBalance decimal.Decimal) Account {
	return Account{
		Name:            Key(name),
		Balance:         startingBalance,
		Strategy:        "",
		Holdings:        make(map[string]int64),
		Transactions:    nil,
		ValuationSeries: nil,
	}
}

// Key normalizes an entity name into the account lookup key.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Quantity returns the held quantity for a symbol, zero when absent.
func (a *Account) Quantity(symbol string) int64 {
	return a.Holdings[symbol]
}

// AccountReport is the snapshot returned by the report operation.
type AccountReport struct {
	Name            string           `json:"name"`
	Balance         decimal.Decimal  `json:"balance"`
	Strategy        string           `json:"strategy"`
	Holdings        map[string]int64 `json:"holdings"`
	Transactions    []Transaction    `json:"transactions"`
	TotalValue      decimal.Decimal  `json:"total_value"`
	TotalProfitLoss decimal.Decimal  `json:"total_profit_loss"`
}
