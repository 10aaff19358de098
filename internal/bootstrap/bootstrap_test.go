package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizora/internal/domain"
	"quizora/internal/infra"
	"quizora/internal/ledger"
)

func memoryConfig() *infra.Config {
	return &infra.Config{LedgerDriver: infra.LedgerDriverMemory, FinalizeTimeout: time.Second}
}

func TestOpenLedgerMemoryDriver(t *testing.T) {
	l, err := OpenLedger(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	assert.Nil(t, l.Runner)
	assert.NoError(t, l.Ready(context.Background()))

	acct, err := l.Service.EnsureAccount(context.Background(), "acct", "a@quizora.id", domain.AccountRoleUser)
	require.NoError(t, err)
	assert.EqualValues(t, l.Service.Catalog().StartingCredits, acct.Balance)
}

func TestOpenLedgerRejectsBadPricingFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.PricingFile = t.TempDir() + "/missing.yaml"
	_, err := OpenLedger(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestSweepScheduler(t *testing.T) {
	l, err := OpenLedger(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	sweeper := ledger.NewSweeper(l.Service)

	_, err = NewSweepScheduler(context.Background(), "not a schedule", sweeper, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewSweepScheduler(context.Background(), "@every 1m", sweeper, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	res := RunSweep(context.Background(), sweeper, zerolog.Nop())
	assert.Equal(t, ledger.SweepResult{}, res)
}
