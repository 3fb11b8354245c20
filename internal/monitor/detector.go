package monitor

import (
	"fmt"

	"stock_notifier/internal/models"
)

// Transition is the detector verdict for one product in one run.
type Transition struct {
	// EligibleNow means the current stock satisfies the intent condition.
	EligibleNow bool
	// JustCrossed means the condition became true since the previous run.
	JustCrossed bool
}

// Evaluate compares the current stock against the previous snapshot entry.
// prev is nil when the product has never been observed.
func Evaluate(intent models.Intent, threshold, current int, prev *models.SnapshotEntry) (Transition, error) {
	switch intent {
	case models.Arrival:
		inStock := current > 0
		return Transition{
			EligibleNow: inStock,
			JustCrossed: inStock && (prev == nil || prev.LastStock <= 0),
		}, nil

	case models.LowStock:
		low := current > 0 && current <= threshold
		return Transition{
			EligibleNow: low,
			JustCrossed: low && prev != nil && prev.LastStock > threshold,
		}, nil
	}

	return Transition{}, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
}

// selectWaiters picks who to notify among the pending waiters matched to one
// product.
//
// A crossing flushes the whole backlog. In steady state only waiters created
// since the product was last observed qualify, everyone older was already
// handled by an earlier run. On the first observation of a product low_stock
// notifies everyone, since discovering an already low state is the event,
// while arrival waits for an observed transition into stock.
func selectWaiters(intent models.Intent, t Transition, prev *models.SnapshotEntry, candidates []models.Waiter) []models.Waiter {
	switch {
	case t.JustCrossed:
		return candidates

	case !t.EligibleNow:
		return nil

	case prev != nil && !prev.LastSeenAt.IsZero():
		var selected []models.Waiter
		for _, w := range candidates {
			if !w.CreatedAt.IsZero() && !w.CreatedAt.Before(prev.LastSeenAt) {
				selected = append(selected, w)
			}
		}
		return selected

	case intent == models.LowStock:
		return candidates
	}

	return nil
}
