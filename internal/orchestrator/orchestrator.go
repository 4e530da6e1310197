// Package orchestrator drives trading runs: a single tick fans out over all
// configured entities concurrently, and the backtest and live modes decide
// how ticks advance through time.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/market"
	"github.com/paperfleet/paperfleet/internal/pipeline"
	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

// EntityResult is one entity's outcome for one tick.
type EntityResult struct {
	Entity types.Entity
	Err    error
}

// TickResult collects the outcomes of one tick, in the same order the
// entities are configured.
type TickResult struct {
	TickID        uuid.UUID
	ReferenceDate time.Time
	TradingDate   time.Time
	Results       []EntityResult
}

// Failed reports whether any entity failed during the tick.
func (r TickResult) Failed() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return true
		}
	}

	return false
}

// BacktestWindow is the simulated time range of a backtest. ReferenceStart
// trails TradingStart by a fixed offset and both advance one calendar day
// per tick until TradingStart passes End.
type BacktestWindow struct {
	ReferenceStart time.Time
	TradingStart   time.Time
	End            time.Time
}

// Validate rejects windows that would never produce a tick.
func (w BacktestWindow) Validate() error {
	if w.TradingStart.After(w.End) {
		return errors.Newf(errors.ErrCodeBacktestWindowInvalid,
			"backtest start %s is after end %s",
			w.TradingStart.Format(types.DateLayout), w.End.Format(types.DateLayout))
	}

	return nil
}

// Ticks is the number of ticks the window produces, end date inclusive.
func (w BacktestWindow) Ticks() int {
	days := int(w.End.Sub(w.TradingStart).Hours() / 24)

	return days + 1
}

// Orchestrator runs the configured entities through the pipeline, once per
// tick. Entities within one tick run concurrently; ticks run strictly one
// after another.
type Orchestrator struct {
	pipeline pipeline.Pipeline
	gate     market.Gate
	entities []types.Entity
	log      *logger.Logger

	// progressOut receives backtest progress rendering. Defaults to stderr.
	progressOut io.Writer
}

func New(p pipeline.Pipeline, gate market.Gate, entities []types.Entity, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		pipeline:    p,
		gate:        gate,
		entities:    entities,
		log:         log,
		progressOut: os.Stderr,
	}
}

// SetProgressOutput redirects backtest progress rendering.
func (o *Orchestrator) SetProgressOutput(w io.Writer) {
	o.progressOut = w
}

// RunOnce executes a single tick at the given simulated dates.
func (o *Orchestrator) RunOnce(ctx context.Context, referenceDate time.Time, tradingDate time.Time) (TickResult, error) {
	if len(o.entities) == 0 {
		return TickResult{}, errors.New(errors.ErrCodeNoEntities, "no entities configured")
	}

	return o.runTick(ctx, referenceDate, tradingDate), nil
}

// RunBacktest replays the window tick by tick, advancing both dates one
// calendar day at a time. Entity failures are recorded in the tick results
// and never stop the run; only context cancellation does.
func (o *Orchestrator) RunBacktest(ctx context.Context, window BacktestWindow) ([]TickResult, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	if len(o.entities) == 0 {
		return nil, errors.New(errors.ErrCodeNoEntities, "no entities configured")
	}

	bar := progressbar.NewOptions(window.Ticks(),
		progressbar.OptionSetWriter(o.progressOut),
		progressbar.OptionSetDescription("Backtesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	referenceDate := window.ReferenceStart
	tradingDate := window.TradingStart

	var results []TickResult

	for !tradingDate.After(window.End) {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		results = append(results, o.runTick(ctx, referenceDate, tradingDate))

		//nolint:errcheck // progress rendering is cosmetic
		bar.Add(1)

		referenceDate = referenceDate.AddDate(0, 0, 1)
		tradingDate = tradingDate.AddDate(0, 0, 1)
	}

	//nolint:errcheck
	bar.Finish()

	return results, nil
}

// RunLive ticks at the given interval until the context is canceled. When
// runWhenClosed is false, ticks are skipped while the market gate reports
// the market closed.
func (o *Orchestrator) RunLive(ctx context.Context, interval time.Duration, runWhenClosed bool) error {
	if len(o.entities) == 0 {
		return errors.New(errors.ErrCodeNoEntities, "no entities configured")
	}

	for {
		open := true
		if !runWhenClosed {
			var err error
			open, err = o.gate.IsOpen(ctx)
			if err != nil {
				o.log.Warn("market status check failed, skipping tick", zap.Error(err))
				open = false
			}
		}

		if open {
			now := time.Now()
			o.runTick(ctx, now, now)
		} else {
			o.log.Info("market closed, skipping tick")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// runTick runs every entity through the pipeline concurrently. Each entity's
// failure, panics included, is isolated into its slot of the result set.
func (o *Orchestrator) runTick(ctx context.Context, referenceDate time.Time, tradingDate time.Time) TickResult {
	tick := TickResult{
		TickID:        uuid.New(),
		ReferenceDate: referenceDate,
		TradingDate:   tradingDate,
		Results:       make([]EntityResult, len(o.entities)),
	}

	o.log.Debug("starting tick",
		zap.String("tick_id", tick.TickID.String()),
		zap.String("reference_date", referenceDate.Format(types.DateLayout)),
		zap.String("trading_date", tradingDate.Format(types.DateLayout)),
	)

	var wg sync.WaitGroup

	for i, entity := range o.entities {
		wg.Add(1)

		go func(i int, entity types.Entity) {
			defer wg.Done()

			tick.Results[i] = EntityResult{
				Entity: entity,
				Err:    o.runEntity(ctx, entity, referenceDate, tradingDate),
			}
		}(i, entity)
	}

	wg.Wait()

	for _, res := range tick.Results {
		if res.Err != nil {
			o.log.Error("entity run failed",
				zap.String("tick_id", tick.TickID.String()),
				zap.String("entity", res.Entity.Name),
				zap.Error(res.Err),
			)
		}
	}

	return tick
}

func (o *Orchestrator) runEntity(ctx context.Context, entity types.Entity, referenceDate time.Time, tradingDate time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrCodePipelineFailed, fmt.Sprintf("pipeline panicked: %v", r))
		}
	}()

	return o.pipeline.Run(ctx, entity, referenceDate, tradingDate)
}
