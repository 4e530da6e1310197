package pipeline

import (
	"context"

	"github.com/paperfleet/paperfleet/internal/types"
)

// NoopResearcher is a placeholder researcher that produces no insights. It
// keeps the pipeline runnable while no content source integration is
// configured.
type NoopResearcher struct{}

func (NoopResearcher) Research(ctx context.Context, req ResearchRequest) (Insight, error) {
	return Insight{}, nil
}

// HoldAdvisor never trades. Combined with NoopResearcher it turns a tick
// into a pure mark-to-market pass: every entity's report and valuation
// series still update.
type HoldAdvisor struct{}

func (HoldAdvisor) Advise(ctx context.Context, req AdviceRequest) ([]types.TradeInstruction, error) {
	return nil, nil
}
