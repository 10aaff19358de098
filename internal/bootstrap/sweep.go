package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"quizora/internal/ledger"
)

const sweepTimeout = 2 * time.Minute

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewSweepScheduler schedules sweeper runs. Overlapping runs are skipped and
// panics are recovered by cron. The caller starts and stops the scheduler.
func NewSweepScheduler(ctx context.Context, spec string, sweeper *ledger.Sweeper, logger zerolog.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(spec, func() {
		RunSweep(ctx, sweeper, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	return c, nil
}

// RunSweep performs one bounded sweep pass and logs its outcome.
func RunSweep(ctx context.Context, sweeper *ledger.Sweeper, logger zerolog.Logger) ledger.SweepResult {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	started := time.Now()
	res, err := sweeper.Run(ctx)
	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	} else if res.Failed == 0 && res.Expired == 0 {
		ev = logger.Debug()
	}
	ev.Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("expired", res.Expired).
		Dur("duration", time.Since(started)).
		Msg("ledger sweep finished")
	return res
}
