package market

import (
	"context"
	"fmt"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"
)

// snapshotProbeTicker is used to discover the date of the last market close
// before requesting the grouped daily aggregates for that day.
const snapshotProbeTicker = "SPY"

// PolygonSource fetches prices from the Polygon REST API.
type PolygonSource struct {
	client *polygon.Client
}

func NewPolygonSource(apiKey string) (*PolygonSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}

	return &PolygonSource{
		client: polygon.New(apiKey),
	}, nil
}

// HistoricalClose implements Source using the daily open/close endpoint.
func (p *PolygonSource) HistoricalClose(ctx context.Context, symbol string, date time.Time) (decimal.Decimal, error) {
	params := &models.GetDailyOpenCloseAggParams{
		Ticker: symbol,
		Date:   models.Date(date),
	}

	resp, err := p.client.GetDailyOpenCloseAgg(ctx, params.WithAdjusted(true))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch daily close for %s on %s: %w", symbol, date.Format("2006-01-02"), err)
	}

	return decimal.NewFromFloat(resp.Close), nil
}

// DailySnapshot implements Source using the grouped daily aggregates for the
// last market close. The close date is discovered by probing the previous
// close of a liquid index ETF, which sidesteps weekend and timezone edge
// cases around "yesterday".
func (p *PolygonSource) DailySnapshot(ctx context.Context) (map[string]decimal.Decimal, error) {
	probeParams := &models.GetPreviousCloseAggParams{
		Ticker: snapshotProbeTicker,
	}

	probe, err := p.client.GetPreviousCloseAgg(ctx, probeParams.WithAdjusted(true))
	if err != nil {
		return nil, fmt.Errorf("failed to probe last close date: %w", err)
	}

	if len(probe.Results) == 0 {
		return nil, fmt.Errorf("previous close probe returned no results")
	}

	lastClose := time.Time(probe.Results[0].Timestamp).UTC()

	groupedParams := &models.GetGroupedDailyAggsParams{
		Locale:     models.US,
		MarketType: models.Stocks,
		Date:       models.Date(lastClose),
	}

	grouped, err := p.client.GetGroupedDailyAggs(ctx, groupedParams.WithAdjusted(true).WithIncludeOTC(false))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch grouped daily aggregates: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(grouped.Results))
	for _, agg := range grouped.Results {
		prices[agg.Ticker] = decimal.NewFromFloat(agg.Close)
	}

	return prices, nil
}

// PolygonGate implements Gate using the Polygon market status endpoint.
type PolygonGate struct {
	client *polygon.Client
}

func NewPolygonGate(apiKey string) (*PolygonGate, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}

	return &PolygonGate{
		client: polygon.New(apiKey),
	}, nil
}

// IsOpen implements Gate.
func (g *PolygonGate) IsOpen(ctx context.Context) (bool, error) {
	status, err := g.client.GetMarketStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch market status: %w", err)
	}

	return status.Market == "open", nil
}
