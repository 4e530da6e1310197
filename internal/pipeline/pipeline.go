// Package pipeline runs one entity through a single trading step: gather
// research for the entity's content source, record what was analyzed, ask
// the advisor for trade instructions, and apply them to the ledger.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/paperfleet/paperfleet/internal/ledger"
	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

// ResearchRequest describes the content window a researcher should cover.
type ResearchRequest struct {
	Entity        types.Entity
	ReferenceDate time.Time
	// ExcludeItemIDs lists items already analyzed for this entity; the
	// researcher should skip them.
	ExcludeItemIDs []string
}

// Insight is the researcher's digest of new material plus the items it
// covered.
type Insight struct {
	Text  string
	Items []types.AnalyzedItem
}

// Researcher produces insights for an entity's content source.
type Researcher interface {
	Research(ctx context.Context, req ResearchRequest) (Insight, error)
}

// AdviceRequest carries everything an advisor needs to decide on trades.
type AdviceRequest struct {
	Entity        types.Entity
	Strategy      string
	Insights      []Insight
	Report        types.AccountReport
	ReferenceDate time.Time
	TradingDate   time.Time
}

// Advisor turns insights and account state into trade instructions.
type Advisor interface {
	Advise(ctx context.Context, req AdviceRequest) ([]types.TradeInstruction, error)
}

// Pipeline executes one trading step for one entity.
type Pipeline interface {
	Run(ctx context.Context, entity types.Entity, referenceDate time.Time, tradingDate time.Time) error
}

// TraderPipeline is the standard research-then-trade pipeline. A failed
// trade instruction is logged and skipped; it never aborts the remaining
// instructions.
type TraderPipeline struct {
	ledger     *ledger.Ledger
	researcher Researcher
	advisor    Advisor
	log        *logger.Logger
}

func NewTraderPipeline(lg *ledger.Ledger, researcher Researcher, advisor Advisor, log *logger.Logger) *TraderPipeline {
	return &TraderPipeline{
		ledger:     lg,
		researcher: researcher,
		advisor:    advisor,
		log:        log,
	}
}

func (p *TraderPipeline) Run(ctx context.Context, entity types.Entity, referenceDate time.Time, tradingDate time.Time) error {
	report, err := p.ledger.Report(ctx, entity.Name, types.TradingDate(tradingDate))
	if err != nil {
		return errors.Wrapf(errors.ErrCodePipelineFailed, err, "failed to load report for %s", entity.Name)
	}

	analyzed, err := p.analyzedItemIDs(entity.Name)
	if err != nil {
		return err
	}

	insight, err := p.researcher.Research(ctx, ResearchRequest{
		Entity:         entity,
		ReferenceDate:  referenceDate,
		ExcludeItemIDs: analyzed,
	})
	if err != nil {
		return errors.Wrapf(errors.ErrCodeResearchFailed, err, "research failed for %s", entity.Name)
	}

	for _, item := range insight.Items {
		if err := p.ledger.MarkItemAnalyzed(ctx, item); err != nil {
			p.log.Warn("failed to record analyzed item",
				zap.String("entity", entity.Name),
				zap.String("item_id", item.ItemID),
				zap.Error(err),
			)
		}
	}

	instructions, err := p.advisor.Advise(ctx, AdviceRequest{
		Entity:        entity,
		Strategy:      report.Strategy,
		Insights:      []Insight{insight},
		Report:        report,
		ReferenceDate: referenceDate,
		TradingDate:   tradingDate,
	})
	if err != nil {
		return errors.Wrapf(errors.ErrCodeAdviceFailed, err, "advice failed for %s", entity.Name)
	}

	p.apply(ctx, entity, instructions, tradingDate)

	return nil
}

// apply executes trade instructions in order, isolating individual failures.
func (p *TraderPipeline) apply(ctx context.Context, entity types.Entity, instructions []types.TradeInstruction, tradingDate time.Time) {
	date := types.TradingDate(tradingDate)

	for _, inst := range instructions {
		var err error

		switch inst.Side {
		case types.TradeSideBuy:
			_, err = p.ledger.Buy(ctx, entity.Name, inst.Symbol, inst.Quantity, inst.Rationale, inst.Price, date)
		case types.TradeSideSell:
			_, err = p.ledger.Sell(ctx, entity.Name, inst.Symbol, inst.Quantity, inst.Rationale, date)
		default:
			err = errors.Newf(errors.ErrCodePipelineFailed, "unknown trade side %q", inst.Side)
		}

		if err != nil {
			p.log.Warn("trade instruction skipped",
				zap.String("entity", entity.Name),
				zap.String("side", string(inst.Side)),
				zap.String("symbol", inst.Symbol),
				zap.Int64("quantity", inst.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (p *TraderPipeline) analyzedItemIDs(name string) ([]string, error) {
	items, err := p.ledger.ListAnalyzed(name)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodePipelineFailed, err, "failed to list analyzed items for %s", name)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ItemID)
	}

	return ids, nil
}
