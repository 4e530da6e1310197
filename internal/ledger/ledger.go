// Package ledger implements per-entity account bookkeeping: deposits,
// withdrawals, spread- and fee-adjusted share trades, valuation, and
// reporting. Accounts are created on first lookup and every mutating
// operation persists the full account state before returning.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/market"
	"github.com/paperfleet/paperfleet/internal/store"
	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

// Config carries the ledger's trading economics.
type Config struct {
	// StartingBalance is the cash balance given to a newly created account.
	StartingBalance decimal.Decimal
	// Spread is the fractional price adjustment applied against the trader:
	// buys execute at price*(1+Spread), sells at price*(1-Spread).
	Spread decimal.Decimal
	// FeeRate is the commission charged on the spread-adjusted notional.
	FeeRate decimal.Decimal
}

// Ledger is the service owning all account state transitions. One entity's
// account is only ever touched by one goroutine at a time (the orchestrator
// guarantees exclusive ownership per tick), so the ledger itself holds no
// locks.
type Ledger struct {
	store    *store.Store
	resolver market.PriceResolver
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

func New(st *store.Store, resolver market.PriceResolver, cfg Config, log *logger.Logger) *Ledger {
	return &Ledger{
		store:    st,
		resolver: resolver,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Get fetches the entity's account, initializing and persisting a fresh one
// with the configured starting balance when the entity has never been seen.
func (l *Ledger) Get(name string) (types.Account, error) {
	stored, err := l.store.GetAccount(name)
	if err != nil {
		return types.Account{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to load account", err)
	}

	if stored.IsSome() {
		return stored.Unwrap(), nil
	}

	account := types.NewAccount(name, l.cfg.StartingBalance)
	if err := l.store.PutAccount(account); err != nil {
		return types.Account{}, errors.Wrap(errors.ErrCodeStoreFailure, "failed to initialize account", err)
	}

	return account, nil
}

// Deposit adds cash to the account.
func (l *Ledger) Deposit(ctx context.Context, name string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New(errors.ErrCodeInvalidAmount, "deposit amount must be positive")
	}

	account, err := l.Get(name)
	if err != nil {
		return err
	}

	account.Balance = account.Balance.Add(amount)
	if err := l.store.PutAccount(account); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist deposit", err)
	}

	l.appendLog(name, fmt.Sprintf("Deposited $%s. New balance: $%s", amount, account.Balance))

	return nil
}

// Withdraw removes cash from the account, never letting the balance go
// negative.
func (l *Ledger) Withdraw(ctx context.Context, name string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New(errors.ErrCodeInvalidAmount, "withdrawal amount must be positive")
	}

	account, err := l.Get(name)
	if err != nil {
		return err
	}

	if amount.GreaterThan(account.Balance) {
		return errors.Newf(errors.ErrCodeInsufficientFunds,
			"insufficient funds for withdrawal: requested $%s, available $%s", amount, account.Balance)
	}

	account.Balance = account.Balance.Sub(amount)
	if err := l.store.PutAccount(account); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist withdrawal", err)
	}

	l.appendLog(name, fmt.Sprintf("Withdrew $%s. New balance: $%s", amount, account.Balance))

	return nil
}

// Buy purchases qty shares of symbol. The execution price is the resolved
// price (or the explicit one) marked up by the spread; a commission on the
// adjusted notional is added on top. On any failure the account is left
// exactly as it was.
func (l *Ledger) Buy(
	ctx context.Context,
	name string,
	symbol string,
	qty int64,
	rationale string,
	price optional.Option[decimal.Decimal],
	date optional.Option[time.Time],
) (types.AccountReport, error) {
	if qty <= 0 {
		return types.AccountReport{}, errors.New(errors.ErrCodeInvalidQuantity, "buy quantity must be positive")
	}

	account, err := l.Get(name)
	if err != nil {
		return types.AccountReport{}, err
	}

	resolved := price.TakeOr(decimal.Zero)
	if price.IsNone() {
		resolved = l.resolver.Resolve(ctx, symbol, date)
	}

	execPrice := resolved.Mul(decimal.NewFromInt(1).Add(l.cfg.Spread))
	notional := execPrice.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(l.cfg.FeeRate)
	totalCost := notional.Add(fee)

	if totalCost.GreaterThan(account.Balance) {
		return types.AccountReport{}, errors.Newf(errors.ErrCodeInsufficientFunds,
			"insufficient funds to buy %d %s: cost $%s, available $%s", qty, symbol, totalCost, account.Balance)
	}

	if resolved.IsZero() {
		return types.AccountReport{}, errors.Newf(errors.ErrCodeUnknownSymbol, "unrecognized symbol %s", symbol)
	}

	account.Holdings[symbol] += qty
	account.Transactions = append(account.Transactions, types.Transaction{
		Symbol:    symbol,
		Quantity:  qty,
		Price:     execPrice,
		Timestamp: l.now(),
		Rationale: rationale,
	})
	account.Balance = account.Balance.Sub(totalCost)

	if err := l.store.PutAccount(account); err != nil {
		return types.AccountReport{}, errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist buy", err)
	}

	l.appendLog(name, fmt.Sprintf("Bought %d of %s (fee: $%s)", qty, symbol, fee.StringFixed(2)))

	return l.Report(ctx, name, date)
}

// Sell disposes of qty shares of symbol. The execution price is the resolved
// price marked down by the spread, with the commission deducted from the
// proceeds. On any failure the account is left exactly as it was.
func (l *Ledger) Sell(
	ctx context.Context,
	name string,
	symbol string,
	qty int64,
	rationale string,
	date optional.Option[time.Time],
) (types.AccountReport, error) {
	if qty <= 0 {
		return types.AccountReport{}, errors.New(errors.ErrCodeInvalidQuantity, "sell quantity must be positive")
	}

	account, err := l.Get(name)
	if err != nil {
		return types.AccountReport{}, err
	}

	if account.Quantity(symbol) < qty {
		return types.AccountReport{}, errors.Newf(errors.ErrCodeInsufficientHoldings,
			"cannot sell %d shares of %s: %d held", qty, symbol, account.Quantity(symbol))
	}

	resolved := l.resolver.Resolve(ctx, symbol, date)
	if resolved.IsZero() {
		return types.AccountReport{}, errors.Newf(errors.ErrCodeUnknownSymbol, "unrecognized symbol %s", symbol)
	}

	execPrice := resolved.Mul(decimal.NewFromInt(1).Sub(l.cfg.Spread))
	notional := execPrice.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(l.cfg.FeeRate)
	proceeds := notional.Sub(fee)

	account.Holdings[symbol] -= qty
	if account.Holdings[symbol] == 0 {
		delete(account.Holdings, symbol)
	}

	account.Transactions = append(account.Transactions, types.Transaction{
		Symbol:    symbol,
		Quantity:  -qty,
		Price:     execPrice,
		Timestamp: l.now(),
		Rationale: rationale,
	})
	account.Balance = account.Balance.Add(proceeds)

	if err := l.store.PutAccount(account); err != nil {
		return types.AccountReport{}, errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist sell", err)
	}

	l.appendLog(name, fmt.Sprintf("Sold %d of %s (fee: $%s)", qty, symbol, fee.StringFixed(2)))

	return l.Report(ctx, name, date)
}

// Valuation computes the account's total value: cash plus the resolved value
// of every holding. Holdings whose price resolves to the zero sentinel
// contribute nothing.
func (l *Ledger) Valuation(ctx context.Context, account types.Account, date optional.Option[time.Time]) decimal.Decimal {
	total := account.Balance
	for symbol, qty := range account.Holdings {
		price := l.resolver.Resolve(ctx, symbol, date)
		total = total.Add(price.Mul(decimal.NewFromInt(qty)))
	}

	return total
}

// ProfitLoss computes P&L as value minus the signed sum of all transaction
// notionals minus the cash balance. The formula intentionally conflates buys
// and sells into one signed sum; it is preserved for compatibility with the
// historical report format.
func (l *Ledger) ProfitLoss(account types.Account, value decimal.Decimal) decimal.Decimal {
	invested := decimal.Zero
	for _, tx := range account.Transactions {
		invested = invested.Add(tx.Notional())
	}

	return value.Sub(invested).Sub(account.Balance)
}

// Report computes the account's valuation, appends it to the valuation
// series, persists, and returns the full snapshot.
func (l *Ledger) Report(ctx context.Context, name string, date optional.Option[time.Time]) (types.AccountReport, error) {
	account, err := l.Get(name)
	if err != nil {
		return types.AccountReport{}, err
	}

	value := l.Valuation(ctx, account, date)
	account.ValuationSeries = append(account.ValuationSeries, types.ValuationPoint{
		Timestamp: l.now(),
		Value:     value,
	})

	if err := l.store.PutAccount(account); err != nil {
		return types.AccountReport{}, errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist report", err)
	}

	l.appendLog(name, "Retrieved account details")

	return types.AccountReport{
		Name:            account.Name,
		Balance:         account.Balance,
		Strategy:        account.Strategy,
		Holdings:        account.Holdings,
		Transactions:    account.Transactions,
		TotalValue:      value,
		TotalProfitLoss: l.ProfitLoss(account, value),
	}, nil
}

// GetBalance returns the entity's cash balance.
func (l *Ledger) GetBalance(ctx context.Context, name string) (decimal.Decimal, error) {
	account, err := l.Get(name)
	if err != nil {
		return decimal.Zero, err
	}

	return account.Balance, nil
}

// GetHoldings returns the entity's current holdings.
func (l *Ledger) GetHoldings(ctx context.Context, name string) (map[string]int64, error) {
	account, err := l.Get(name)
	if err != nil {
		return nil, err
	}

	return account.Holdings, nil
}

// GetStrategy returns the entity's strategy text.
func (l *Ledger) GetStrategy(ctx context.Context, name string) (string, error) {
	account, err := l.Get(name)
	if err != nil {
		return "", err
	}

	l.appendLog(name, "Retrieved strategy")

	return account.Strategy, nil
}

// ChangeStrategy replaces the entity's strategy text.
func (l *Ledger) ChangeStrategy(ctx context.Context, name string, strategy string) error {
	account, err := l.Get(name)
	if err != nil {
		return err
	}

	account.Strategy = strategy
	if err := l.store.PutAccount(account); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist strategy change", err)
	}

	l.appendLog(name, "Changed strategy")

	return nil
}

// Reset restores the account to its initial state: starting balance, the
// given strategy, and cleared holdings, transactions, and valuation series.
func (l *Ledger) Reset(ctx context.Context, name string, strategy string) error {
	account, err := l.Get(name)
	if err != nil {
		return err
	}

	account.Balance = l.cfg.StartingBalance
	account.Strategy = strategy
	account.Holdings = make(map[string]int64)
	account.Transactions = nil
	account.ValuationSeries = nil

	if err := l.store.PutAccount(account); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, "failed to persist reset", err)
	}

	l.appendLog(name, "Account reset to initial state")

	return nil
}

// CheckItemAnalyzed reports whether a content item was already analyzed for
// the entity.
func (l *Ledger) CheckItemAnalyzed(ctx context.Context, itemID string, name string) (bool, error) {
	analyzed, err := l.store.IsAnalyzed(itemID, name)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeQueryFailed, "failed to check analyzed item", err)
	}

	return analyzed, nil
}

// RecentActivity returns the entity's last n audit lines in chronological
// order.
func (l *Ledger) RecentActivity(ctx context.Context, name string, n uint64) ([]types.ActivityLogEntry, error) {
	logs, err := l.store.GetLogs(name, n)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to load activity log", err)
	}

	return logs, nil
}

// ListAnalyzed returns every item analyzed for the entity.
func (l *Ledger) ListAnalyzed(name string) ([]types.AnalyzedItem, error) {
	items, err := l.store.ListAnalyzed(name)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to list analyzed items", err)
	}

	return items, nil
}

// MarkItemAnalyzed records a content item as analyzed for the entity.
// Calling it again with the same (item, entity) pair overwrites the record.
func (l *Ledger) MarkItemAnalyzed(ctx context.Context, item types.AnalyzedItem) error {
	if err := l.store.UpsertAnalyzed(item); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailure, "failed to record analyzed item", err)
	}

	return nil
}

// appendLog writes one audit line. Audit failures are logged but never fail
// the ledger operation they accompany.
func (l *Ledger) appendLog(name string, message string) {
	if err := l.store.AppendLog(name, types.ActivityKindAccount, message); err != nil {
		l.log.Warn("failed to append activity log",
			zap.String("entity", name),
			zap.Error(err),
		)
	}
}
