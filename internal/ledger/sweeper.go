package ledger

import (
	"context"
	"errors"
	"time"

	"quizora/internal/domain"
)

const (
	StaleReason    = "stale"
	sweepBatchSize = 100
)

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Failed  int
	Skipped int
	Expired int
}

// Sweeper resolves pending events whose reconciliation never happened, e.g.
// because the process died between deduction and settlement.
type Sweeper struct {
	svc   *Service
	store domain.LedgerStore
	after time.Duration
}

func NewSweeper(svc *Service) *Sweeper {
	return &Sweeper{svc: svc, store: svc.store, after: svc.catalog.StalePendingAfter}
}

// Run refunds stale pending events with status failed and expires lapsed
// subscriptions. Events resolved concurrently by a late reconciliation are
// counted as skipped.
func (w *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := w.svc.now().UTC().Add(-w.after)
	for {
		stale, err := w.store.StalePending(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return res, err
		}
		progressed := false
		for _, ev := range stale {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			_, err := w.svc.refund(ctx, ev.ID, ev.AccountID, domain.UsageStatusFailed, StaleReason)
			switch {
			case err == nil:
				res.Failed++
				progressed = true
			case errors.Is(err, domain.ErrEventResolved), errors.Is(err, domain.ErrNotFound):
				res.Skipped++
				progressed = true
			default:
				return res, err
			}
		}
		if len(stale) < sweepBatchSize || !progressed {
			break
		}
	}

	n, err := w.svc.ExpireSubscriptions(ctx)
	if err != nil {
		return res, err
	}
	res.Expired = n
	if res.Failed > 0 || res.Skipped > 0 {
		w.svc.logger.Info().Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("stale usage swept")
	}
	return res, nil
}
