package market

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/store"
	"github.com/paperfleet/paperfleet/internal/types"
)

// CachedResolver implements PriceResolver over a Source with the store as a
// write-through cache.
//
// With an explicit date the per-(symbol, date) price cache is consulted
// first; a miss falls through to the source and the result is written back,
// so within one backtest run a price observed for a key never changes.
// Without a date, the day's bulk EOD snapshot is fetched at most once
// (singleflight across concurrent entity goroutines, persisted across
// restarts) and every symbol lookup for that day reads from it.
type CachedResolver struct {
	store  *store.Store
	source Source
	log    *logger.Logger
	group  singleflight.Group
	now    func() time.Time
}

func NewCachedResolver(st *store.Store, source Source, log *logger.Logger) *CachedResolver {
	return &CachedResolver{
		store:  st,
		source: source,
		log:    log,
		now:    time.Now,
	}
}

// Resolve implements PriceResolver. Lookup failures degrade to the zero
// sentinel and are logged; they never propagate as errors.
func (r *CachedResolver) Resolve(ctx context.Context, symbol string, date optional.Option[time.Time]) decimal.Decimal {
	if date.IsSome() {
		return r.resolveHistorical(ctx, symbol, date.Unwrap())
	}

	return r.resolveCurrent(ctx, symbol)
}

func (r *CachedResolver) resolveHistorical(ctx context.Context, symbol string, date time.Time) decimal.Decimal {
	cached, err := r.store.GetPrice(symbol, date)
	if err != nil {
		r.log.Warn("price cache read failed",
			zap.String("symbol", symbol),
			zap.String("date", date.Format(types.DateLayout)),
			zap.Error(err),
		)
	} else if cached.IsSome() {
		return cached.Unwrap()
	}

	price, err := r.source.HistoricalClose(ctx, symbol, date)
	if err != nil {
		r.log.Warn("historical price lookup failed",
			zap.String("symbol", symbol),
			zap.String("date", date.Format(types.DateLayout)),
			zap.Error(err),
		)

		return decimal.Zero
	}

	if err := r.store.PutPrice(symbol, date, price); err != nil {
		r.log.Warn("price cache write failed",
			zap.String("symbol", symbol),
			zap.String("date", date.Format(types.DateLayout)),
			zap.Error(err),
		)
	}

	return price
}

func (r *CachedResolver) resolveCurrent(ctx context.Context, symbol string) decimal.Decimal {
	today := r.now().UTC()
	key := today.Format(types.DateLayout)

	snapshot, err, _ := r.group.Do(key, func() (any, error) {
		stored, err := r.store.GetMarketSnapshot(today)
		if err != nil {
			return nil, err
		}

		if stored.IsSome() {
			return stored.Unwrap().Prices, nil
		}

		prices, err := r.source.DailySnapshot(ctx)
		if err != nil {
			return nil, err
		}

		if err := r.store.PutMarketSnapshot(today, prices); err != nil {
			r.log.Warn("market snapshot write failed",
				zap.String("date", key),
				zap.Error(err),
			)
		}

		return prices, nil
	})
	if err != nil {
		r.log.Warn("daily snapshot fetch failed",
			zap.String("symbol", symbol),
			zap.String("date", key),
			zap.Error(err),
		)

		return decimal.Zero
	}

	prices, ok := snapshot.(map[string]decimal.Decimal)
	if !ok {
		return decimal.Zero
	}

	price, ok := prices[symbol]
	if !ok {
		return decimal.Zero
	}

	return price
}
