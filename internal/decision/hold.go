package decision

import (
	"context"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// Hold never trades.
type Hold struct{}

func (Hold) Name() string { return "hold" }

func (Hold) Decide(context.Context, Window) (types.Signal, error) {
	return types.HoldSignal("always hold"), nil
}

// BuyAndHold signals buy every cycle, so the first cycle opens a long
// position that is never closed.
type BuyAndHold struct{}

func (BuyAndHold) Name() string { return "buy_and_hold" }

func (BuyAndHold) Decide(context.Context, Window) (types.Signal, error) {
	return types.NewSignal(types.DirectionBuy, "buy and hold"), nil
}
