package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/market"
	"github.com/paperfleet/paperfleet/internal/store"
	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

type LedgerTestSuite struct {
	suite.Suite
	store    *store.Store
	resolver *market.FixedResolver
	ledger   *Ledger
	ctx      context.Context
}

func (suite *LedgerTestSuite) SetupTest() {
	st, err := store.NewStore("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.Require().NoError(st.Initialize())

	suite.store = st
	suite.resolver = market.NewFixedResolver(map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(500),
		"MSFT": decimal.NewFromInt(100),
	})
	suite.ledger = New(st, suite.resolver, Config{
		StartingBalance: decimal.NewFromInt(10000),
		Spread:          decimal.NewFromFloat(0.002),
		FeeRate:         decimal.NewFromFloat(0.0015),
	}, logger.NewNopLogger())
	suite.ctx = context.Background()
}

func (suite *LedgerTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) noPrice() optional.Option[decimal.Decimal] {
	return optional.None[decimal.Decimal]()
}

func (suite *LedgerTestSuite) noDate() optional.Option[time.Time] {
	return optional.None[time.Time]()
}

func (suite *LedgerTestSuite) TestGetInitializesAccount() {
	account, err := suite.ledger.Get("Alice")
	suite.Require().NoError(err)
	suite.Assert().Equal("alice", account.Name)
	suite.Assert().True(account.Balance.Equal(decimal.NewFromInt(10000)))
	suite.Assert().Empty(account.Holdings)

	// Second lookup loads the persisted account rather than re-initializing.
	stored, err := suite.store.GetAccount("alice")
	suite.Require().NoError(err)
	suite.Assert().True(stored.IsSome())
}

func (suite *LedgerTestSuite) TestDepositWithdraw() {
	suite.Require().NoError(suite.ledger.Deposit(suite.ctx, "alice", decimal.NewFromInt(500)))

	balance, err := suite.ledger.GetBalance(suite.ctx, "alice")
	suite.Require().NoError(err)
	suite.Assert().True(balance.Equal(decimal.NewFromInt(10500)))

	suite.Require().NoError(suite.ledger.Withdraw(suite.ctx, "alice", decimal.NewFromInt(300)))

	balance, err = suite.ledger.GetBalance(suite.ctx, "alice")
	suite.Require().NoError(err)
	suite.Assert().True(balance.Equal(decimal.NewFromInt(10200)))
}

func (suite *LedgerTestSuite) TestDepositRejectsNonPositive() {
	err := suite.ledger.Deposit(suite.ctx, "alice", decimal.Zero)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidAmount))

	err = suite.ledger.Deposit(suite.ctx, "alice", decimal.NewFromInt(-5))
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidAmount))
}

func (suite *LedgerTestSuite) TestWithdrawRejectsOverdraft() {
	err := suite.ledger.Withdraw(suite.ctx, "alice", decimal.NewFromInt(10001))
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInsufficientFunds))

	balance, err := suite.ledger.GetBalance(suite.ctx, "alice")
	suite.Require().NoError(err)
	suite.Assert().True(balance.Equal(decimal.NewFromInt(10000)))
}

// TestBuyCharges verifies the exact execution price arithmetic: 2 shares at
// a market price of 500 execute at 501 each (0.2% spread), the notional of
// 1002 carries a 1.503 commission (0.15%), leaving 8996.497 from 10000.
func (suite *LedgerTestSuite) TestBuyCharges() {
	report, err := suite.ledger.Buy(suite.ctx, "alice", "AAPL", 2, "test buy", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	suite.Assert().True(report.Balance.Equal(decimal.NewFromFloat(8996.497)),
		"got balance %s", report.Balance)
	suite.Assert().Equal(int64(2), report.Holdings["AAPL"])

	suite.Require().Len(report.Transactions, 1)
	tx := report.Transactions[0]
	suite.Assert().Equal(int64(2), tx.Quantity)
	suite.Assert().True(tx.Price.Equal(decimal.NewFromInt(501)), "got price %s", tx.Price)
	suite.Assert().Equal("test buy", tx.Rationale)
}

func (suite *LedgerTestSuite) TestBuyWithExplicitPrice() {
	price := optional.Some(decimal.NewFromInt(1000))

	report, err := suite.ledger.Buy(suite.ctx, "alice", "AAPL", 1, "limit-ish", price, suite.noDate())
	suite.Require().NoError(err)

	// exec = 1000 * 1.002 = 1002, fee = 1002 * 0.0015 = 1.503
	suite.Assert().True(report.Balance.Equal(decimal.NewFromFloat(8996.497)))
	suite.Assert().True(report.Transactions[0].Price.Equal(decimal.NewFromInt(1002)))
}

func (suite *LedgerTestSuite) TestBuyInsufficientFundsLeavesStateUnchanged() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "AAPL", 100, "too big", suite.noPrice(), suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInsufficientFunds))

	account, getErr := suite.ledger.Get("alice")
	suite.Require().NoError(getErr)
	suite.Assert().True(account.Balance.Equal(decimal.NewFromInt(10000)))
	suite.Assert().Empty(account.Holdings)
	suite.Assert().Empty(account.Transactions)
}

func (suite *LedgerTestSuite) TestBuyUnknownSymbol() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "NOPE", 1, "", suite.noPrice(), suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeUnknownSymbol))
}

// An unknown symbol resolves to zero, so an absurd quantity costs nothing
// and passes the funds check; the symbol check is what rejects it.
func (suite *LedgerTestSuite) TestBuyUnknownSymbolHugeQuantity() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "NOPE", 1000000, "", suite.noPrice(), suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeUnknownSymbol))
}

func (suite *LedgerTestSuite) TestBuyRejectsNonPositiveQuantity() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "AAPL", 0, "", suite.noPrice(), suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidQuantity))

	_, err = suite.ledger.Buy(suite.ctx, "alice", "AAPL", -3, "", suite.noPrice(), suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidQuantity))
}

func (suite *LedgerTestSuite) TestSellProceedsAndHoldingRemoval() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 10, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	report, err := suite.ledger.Sell(suite.ctx, "alice", "MSFT", 10, "close out", suite.noDate())
	suite.Require().NoError(err)

	// Position sold to zero disappears from holdings entirely.
	suite.Assert().NotContains(report.Holdings, "MSFT")

	suite.Require().Len(report.Transactions, 2)
	sell := report.Transactions[1]
	suite.Assert().Equal(int64(-10), sell.Quantity)
	// exec = 100 * 0.998 = 99.8
	suite.Assert().True(sell.Price.Equal(decimal.NewFromFloat(99.8)), "got price %s", sell.Price)
}

// A buy immediately followed by a sell loses exactly the spread and the two
// commissions.
func (suite *LedgerTestSuite) TestRoundTripIsCostly() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 10, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	report, err := suite.ledger.Sell(suite.ctx, "alice", "MSFT", 10, "", suite.noDate())
	suite.Require().NoError(err)

	// buy: exec 100.2, notional 1002, fee 1.503, cost 1003.503
	// sell: exec 99.8, notional 998, fee 1.497, proceeds 996.503
	expected := decimal.NewFromInt(10000).
		Sub(decimal.NewFromFloat(1003.503)).
		Add(decimal.NewFromFloat(996.503))
	suite.Assert().True(report.Balance.Equal(expected), "got balance %s, want %s", report.Balance, expected)
	suite.Assert().True(report.Balance.LessThan(decimal.NewFromInt(10000)))
}

func (suite *LedgerTestSuite) TestSellInsufficientHoldings() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 5, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	_, err = suite.ledger.Sell(suite.ctx, "alice", "MSFT", 6, "", suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInsufficientHoldings))

	account, getErr := suite.ledger.Get("alice")
	suite.Require().NoError(getErr)
	suite.Assert().Equal(int64(5), account.Holdings["MSFT"])
}

func (suite *LedgerTestSuite) TestSellNothingHeld() {
	_, err := suite.ledger.Sell(suite.ctx, "alice", "AAPL", 1, "", suite.noDate())
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInsufficientHoldings))
}

func (suite *LedgerTestSuite) TestValuation() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 10, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	account, err := suite.ledger.Get("alice")
	suite.Require().NoError(err)

	value := suite.ledger.Valuation(suite.ctx, account, suite.noDate())

	// balance + 10 shares at the current price of 100
	expected := account.Balance.Add(decimal.NewFromInt(1000))
	suite.Assert().True(value.Equal(expected))
}

func (suite *LedgerTestSuite) TestValuationZeroPriceHolding() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 10, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	// The symbol becomes unpriceable; its shares contribute nothing.
	suite.resolver.SetPrice("MSFT", decimal.Zero)

	account, err := suite.ledger.Get("alice")
	suite.Require().NoError(err)

	value := suite.ledger.Valuation(suite.ctx, account, suite.noDate())
	suite.Assert().True(value.Equal(account.Balance))
}

func (suite *LedgerTestSuite) TestProfitLossFormula() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 10, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)

	account, err := suite.ledger.Get("alice")
	suite.Require().NoError(err)

	value := suite.ledger.Valuation(suite.ctx, account, suite.noDate())
	pnl := suite.ledger.ProfitLoss(account, value)

	// value - sum(signed notionals) - balance, computed by hand:
	// value   = balance + 1000
	// invested = 10 * 100.2 = 1002
	expected := value.Sub(decimal.NewFromFloat(1002)).Sub(account.Balance)
	suite.Assert().True(pnl.Equal(expected), "got %s, want %s", pnl, expected)
}

func (suite *LedgerTestSuite) TestReportAppendsValuationSeries() {
	_, err := suite.ledger.Report(suite.ctx, "alice", suite.noDate())
	suite.Require().NoError(err)

	_, err = suite.ledger.Report(suite.ctx, "alice", suite.noDate())
	suite.Require().NoError(err)

	account, err := suite.ledger.Get("alice")
	suite.Require().NoError(err)
	suite.Require().Len(account.ValuationSeries, 2)
	suite.Assert().True(account.ValuationSeries[0].Value.Equal(decimal.NewFromInt(10000)))
}

func (suite *LedgerTestSuite) TestChangeStrategy() {
	suite.Require().NoError(suite.ledger.ChangeStrategy(suite.ctx, "alice", "buy and hold"))

	strategy, err := suite.ledger.GetStrategy(suite.ctx, "alice")
	suite.Require().NoError(err)
	suite.Assert().Equal("buy and hold", strategy)
}

func (suite *LedgerTestSuite) TestReset() {
	_, err := suite.ledger.Buy(suite.ctx, "alice", "MSFT", 10, "", suite.noPrice(), suite.noDate())
	suite.Require().NoError(err)
	_, err = suite.ledger.Report(suite.ctx, "alice", suite.noDate())
	suite.Require().NoError(err)

	suite.Require().NoError(suite.ledger.Reset(suite.ctx, "alice", "fresh strategy"))

	account, err := suite.ledger.Get("alice")
	suite.Require().NoError(err)
	suite.Assert().True(account.Balance.Equal(decimal.NewFromInt(10000)))
	suite.Assert().Equal("fresh strategy", account.Strategy)
	suite.Assert().Empty(account.Holdings)
	suite.Assert().Empty(account.Transactions)
	suite.Assert().Empty(account.ValuationSeries)
}

func (suite *LedgerTestSuite) TestAnalyzedItemTracking() {
	analyzed, err := suite.ledger.CheckItemAnalyzed(suite.ctx, "item-1", "alice")
	suite.Require().NoError(err)
	suite.Assert().False(analyzed)

	suite.Require().NoError(suite.ledger.MarkItemAnalyzed(suite.ctx, types.AnalyzedItem{
		ItemID:     "item-1",
		Entity:     "alice",
		Title:      "Some headline",
		AnalyzedAt: time.Now().UTC().Format(time.RFC3339),
	}))

	analyzed, err = suite.ledger.CheckItemAnalyzed(suite.ctx, "item-1", "alice")
	suite.Require().NoError(err)
	suite.Assert().True(analyzed)
}
