package strategy

import (
	"context"
	"fmt"

	"wick_go/internal/accounting"
	"wick_go/internal/domain"
)

// Hook is periodic maintenance run from the tick loop.
// Returning an error wrapping domain.ErrStopRequested stops the loop.
type Hook func(ctx context.Context) error

// Hooks are the wall-clock keyed maintenance callbacks. Nil hooks are skipped.
type Hooks struct {
	Hourly Hook
	Daily  Hook
}

// LossLimit stops trading once the realized PnL of the run falls to -maxLoss.
func LossLimit(acct *accounting.Accountant, maxLoss float64) Hook {
	return func(context.Context) error {
		if maxLoss <= 0 {
			return nil
		}
		if pnl := acct.Snapshot().TotalPnL; pnl <= -maxLoss {
			return fmt.Errorf("loss limit %.0f reached at pnl %.0f: %w", maxLoss, pnl, domain.ErrStopRequested)
		}
		return nil
	}
}
