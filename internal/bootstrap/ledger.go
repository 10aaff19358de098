// Package bootstrap wires the ledger stack from configuration for the
// binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"quizora/internal/adapter/repo"
	"quizora/internal/domain"
	"quizora/internal/infra"
	"quizora/internal/ledger"
	"quizora/internal/pricing"
)

// Ledger bundles the credit ledger with the resources backing it.
type Ledger struct {
	Service *ledger.Service
	History *ledger.History
	// Runner is nil when the in-memory driver is selected.
	Runner *infra.SQLRunner
	pool   *pgxpool.Pool
}

// OpenLedger loads the pricing catalog and builds the ledger over the
// configured driver. The Postgres driver creates missing tables.
func OpenLedger(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Ledger, error) {
	catalog, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		return nil, err
	}

	l := &Ledger{}
	var store domain.LedgerStore
	switch cfg.LedgerDriver {
	case infra.LedgerDriverMemory:
		logger.Warn().Msg("using in-memory ledger; balances are lost on restart")
		store = ledger.NewMemoryStore()
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		pg := repo.NewLedgerRepository(runner)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		l.pool, l.Runner, store = pool, runner, pg
	}

	l.Service = ledger.NewService(store, catalog, ledger.Options{
		Logger:          logger,
		FinalizeTimeout: cfg.FinalizeTimeout,
	})
	l.History = ledger.NewHistory(store)
	return l, nil
}

// Ready pings the database when there is one.
func (l *Ledger) Ready(ctx context.Context) error {
	if l.pool == nil {
		return nil
	}
	return l.pool.Ping(ctx)
}

func (l *Ledger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}
