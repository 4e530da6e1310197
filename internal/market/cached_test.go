package market

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/store"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

// countingSource is a Source backed by fixed data that counts vendor calls.
type countingSource struct {
	historical      map[string]decimal.Decimal
	snapshot        map[string]decimal.Decimal
	failHistorical  bool
	failSnapshot    bool
	historicalCalls int
	snapshotCalls   int
}

func (s *countingSource) HistoricalClose(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, error) {
	s.historicalCalls++

	if s.failHistorical {
		return decimal.Zero, errors.New(errors.ErrCodePriceLookupFailed, "vendor unavailable")
	}

	price, ok := s.historical[symbol]
	if !ok {
		return decimal.Zero, errors.Newf(errors.ErrCodePriceLookupFailed, "no data for %s", symbol)
	}

	return price, nil
}

func (s *countingSource) DailySnapshot(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.snapshotCalls++

	if s.failSnapshot {
		return nil, errors.New(errors.ErrCodeSnapshotFetchFailed, "vendor unavailable")
	}

	return s.snapshot, nil
}

type CachedResolverTestSuite struct {
	suite.Suite
	store    *store.Store
	source   *countingSource
	resolver *CachedResolver
	ctx      context.Context
}

func (suite *CachedResolverTestSuite) SetupTest() {
	st, err := store.NewStore("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.Require().NoError(st.Initialize())

	suite.store = st
	suite.source = &countingSource{
		historical: map[string]decimal.Decimal{"AAPL": decimal.NewFromFloat(187.5)},
		snapshot:   map[string]decimal.Decimal{"AAPL": decimal.NewFromFloat(190.0)},
	}
	suite.resolver = NewCachedResolver(st, suite.source, logger.NewNopLogger())
	suite.ctx = context.Background()
}

func (suite *CachedResolverTestSuite) TearDownTest() {
	suite.Require().NoError(suite.store.Close())
}

func TestCachedResolverSuite(t *testing.T) {
	suite.Run(t, new(CachedResolverTestSuite))
}

func (suite *CachedResolverTestSuite) TestHistoricalWriteThrough() {
	date := optional.Some(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	price := suite.resolver.Resolve(suite.ctx, "AAPL", date)
	suite.Assert().True(price.Equal(decimal.NewFromFloat(187.5)))
	suite.Assert().Equal(1, suite.source.historicalCalls)

	// Second lookup is served from the cache.
	price = suite.resolver.Resolve(suite.ctx, "AAPL", date)
	suite.Assert().True(price.Equal(decimal.NewFromFloat(187.5)))
	suite.Assert().Equal(1, suite.source.historicalCalls)
}

func (suite *CachedResolverTestSuite) TestHistoricalCachedAcrossResolvers() {
	date := optional.Some(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	suite.resolver.Resolve(suite.ctx, "AAPL", date)

	// A fresh resolver over the same store still hits the cache.
	other := NewCachedResolver(suite.store, suite.source, logger.NewNopLogger())
	price := other.Resolve(suite.ctx, "AAPL", date)
	suite.Assert().True(price.Equal(decimal.NewFromFloat(187.5)))
	suite.Assert().Equal(1, suite.source.historicalCalls)
}

func (suite *CachedResolverTestSuite) TestHistoricalFailureDegradesToZero() {
	suite.source.failHistorical = true

	date := optional.Some(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	price := suite.resolver.Resolve(suite.ctx, "UNKNOWN", date)
	suite.Assert().True(price.IsZero())

	// Failures are not cached; the next lookup retries the source.
	suite.resolver.Resolve(suite.ctx, "UNKNOWN", date)
	suite.Assert().Equal(2, suite.source.historicalCalls)
}

func (suite *CachedResolverTestSuite) TestSnapshotFetchedOnce() {
	price := suite.resolver.Resolve(suite.ctx, "AAPL", optional.None[time.Time]())
	suite.Assert().True(price.Equal(decimal.NewFromFloat(190.0)))
	suite.Assert().Equal(1, suite.source.snapshotCalls)

	// Second current-price lookup reads the persisted snapshot.
	suite.resolver.Resolve(suite.ctx, "AAPL", optional.None[time.Time]())
	suite.Assert().Equal(1, suite.source.snapshotCalls)

	// So does a fresh resolver over the same store.
	other := NewCachedResolver(suite.store, suite.source, logger.NewNopLogger())
	other.Resolve(suite.ctx, "AAPL", optional.None[time.Time]())
	suite.Assert().Equal(1, suite.source.snapshotCalls)
}

func (suite *CachedResolverTestSuite) TestSnapshotUnknownSymbolIsZero() {
	price := suite.resolver.Resolve(suite.ctx, "NOPE", optional.None[time.Time]())
	suite.Assert().True(price.IsZero())
}

func (suite *CachedResolverTestSuite) TestSnapshotFailureDegradesToZero() {
	suite.source.failSnapshot = true

	price := suite.resolver.Resolve(suite.ctx, "AAPL", optional.None[time.Time]())
	suite.Assert().True(price.IsZero())
}

func (suite *CachedResolverTestSuite) TestConcurrentSnapshotLookups() {
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			suite.resolver.Resolve(suite.ctx, "AAPL", optional.None[time.Time]())
		}()
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	// Concurrent lookups coalesce into a single snapshot fetch.
	suite.Assert().Equal(1, suite.source.snapshotCalls)
}

func TestFixedResolver(t *testing.T) {
	resolver := NewFixedResolver(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)})

	price := resolver.Resolve(context.Background(), "AAPL", optional.None[time.Time]())
	if !price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100, got %s", price)
	}

	if !resolver.Resolve(context.Background(), "NOPE", optional.None[time.Time]()).IsZero() {
		t.Errorf("expected zero for unknown symbol")
	}

	resolver.SetPrice("AAPL", decimal.NewFromInt(150))

	if !resolver.Resolve(context.Background(), "AAPL", optional.None[time.Time]()).Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected updated price")
	}
}
