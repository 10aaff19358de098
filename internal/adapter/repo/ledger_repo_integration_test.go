//go:build integration

package repo

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizora/internal/domain"
	"quizora/internal/infra"
	"quizora/internal/ledger"
	"quizora/internal/pricing"
)

func setupLedger(t *testing.T) (*ledger.Service, *LedgerPG) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewLedgerRepository(infra.NewSQLRunner(pool, zerolog.Nop()))
	require.NoError(t, store.EnsureSchema(ctx))
	return ledger.NewService(store, pricing.Default(), ledger.Options{Logger: zerolog.Nop()}), store
}

func seed(t *testing.T, store *LedgerPG, balance int64) string {
	t.Helper()
	id := "it-" + uuid.NewString()
	_, created, err := store.EnsureAccount(context.Background(), domain.AccountSeed{ID: id, StartingBalance: balance})
	require.NoError(t, err)
	require.True(t, created)
	t.Cleanup(func() { _ = store.DeleteAccount(context.Background(), id) })
	return id
}

func TestPostgresChargeLifecycle(t *testing.T) {
	svc, store := setupLedger(t)
	ctx := context.Background()

	id := seed(t, store, 10)
	rec, err := svc.Charge(ctx, ledger.ChargeRequest{AccountID: id, Kind: domain.KindResearchPaper}, func(context.Context) (ledger.Outcome, error) {
		return ledger.Outcome{Output: "paper"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Balance)
	assert.Equal(t, domain.UsageStatusCommitted, rec.Event.Status)

	rec, err = svc.Charge(ctx, ledger.ChargeRequest{AccountID: id, Kind: domain.KindResearchPaper}, func(context.Context) (ledger.Outcome, error) {
		return ledger.Outcome{}, domain.ErrFatal
	})
	require.ErrorIs(t, err, domain.ErrFatal)
	assert.Equal(t, int64(5), rec.Balance)
	assert.Equal(t, domain.UsageStatusRefunded, rec.Event.Status)

	_, err = svc.Reconcile(ctx, rec.Event, ledger.Outcome{}, domain.ErrFatal)
	assert.ErrorIs(t, err, domain.ErrEventResolved)

	rec, err = svc.Charge(ctx, ledger.ChargeRequest{AccountID: id, Kind: domain.KindChatTurn, SessionID: "s"}, func(context.Context) (ledger.Outcome, error) {
		return ledger.Outcome{Output: strings.Repeat("a", 1600)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Balance)
	assert.Equal(t, int64(4), rec.Event.ActualCost)

	acct, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(9), acct.LifetimeConsumed)

	page, err := ledger.NewHistory(store).List(ctx, ledger.ListQuery{AccountID: id, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, domain.KindChatTurn, page.Events[0].Kind)
	require.NotEmpty(t, page.NextCursor)

	page, err = ledger.NewHistory(store).List(ctx, ledger.ListQuery{AccountID: id, Cursor: page.NextCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Empty(t, page.NextCursor)
}

func TestPostgresConcurrentDeductions(t *testing.T) {
	svc, store := setupLedger(t)
	id := seed(t, store, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Deduct(context.Background(), domain.DeductRequest{
				AccountID: id, Kind: domain.KindTextQuestion, Amount: 6, DeclaredCost: 6,
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			var insufficient *domain.InsufficientError
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, int64(2), insufficient.Shortfall())
		}
	}
	assert.Equal(t, 1, failures)

	acct, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), acct.Balance)
}

func TestPostgresSubscriptionPolicy(t *testing.T) {
	svc, store := setupLedger(t)
	ctx := context.Background()
	id := seed(t, store, 10)

	grant, bal, err := svc.Subscribe(ctx, id, "starter")
	require.NoError(t, err)
	assert.Equal(t, int64(110), bal)

	_, err = svc.Charge(ctx, ledger.ChargeRequest{AccountID: id, Kind: domain.KindResearchPaper}, func(context.Context) (ledger.Outcome, error) {
		return ledger.Outcome{Output: "p"}, nil
	})
	require.NoError(t, err)

	_, reclaimed, bal, err := svc.CancelSubscription(ctx, grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(95), reclaimed)
	assert.Equal(t, int64(10), bal)

	_, _, _, err = svc.CancelSubscription(ctx, grant.ID)
	assert.ErrorIs(t, err, domain.ErrNotActive)
}
