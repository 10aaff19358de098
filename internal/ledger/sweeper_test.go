package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizora/internal/domain"
	"quizora/internal/pricing"
)

func TestSweeperFailsStalePendingEvents(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	clock := func() time.Time { return now }
	store := NewMemoryStore().WithClock(clock)
	svc := NewService(store, pricing.Default(), Options{Logger: zerolog.Nop(), Now: clock})
	seedAccount(t, store, "sweep", 20)
	ctx := context.Background()

	stale, _, err := svc.Deduct(ctx, domain.DeductRequest{AccountID: "sweep", Kind: domain.KindBookChapter, Amount: 4, DeclaredCost: 4})
	require.NoError(t, err)

	now = t0.Add(10 * time.Minute)
	fresh, _, err := svc.Deduct(ctx, domain.DeductRequest{AccountID: "sweep", Kind: domain.KindMindMap, Amount: 2, DeclaredCost: 2})
	require.NoError(t, err)

	now = t0.Add(20 * time.Minute)
	res, err := NewSweeper(svc).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := store.GetEvent(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UsageStatusFailed, got.Status)
	assert.Equal(t, StaleReason, got.FailureReason)
	assert.Zero(t, got.ActualCost)

	got, err = store.GetEvent(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UsageStatusPending, got.Status)

	bal, err := svc.Balance(ctx, "sweep")
	require.NoError(t, err)
	assert.Equal(t, int64(18), bal)

	// A late reconciliation of a swept event changes nothing.
	_, err = svc.Reconcile(ctx, stale, Outcome{Output: "late"}, nil)
	assert.ErrorIs(t, err, domain.ErrEventResolved)

	res, err = NewSweeper(svc).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Failed)
}

func TestSweeperExpiresSubscriptions(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	store := NewMemoryStore()
	svc := NewService(store, pricing.Default(), Options{Logger: zerolog.Nop(), Now: func() time.Time { return now }})
	seedAccount(t, store, "sweep-sub", 0)

	_, _, err := svc.Subscribe(context.Background(), "sweep-sub", "pro")
	require.NoError(t, err)

	now = t0.AddDate(0, 1, 1)
	res, err := NewSweeper(svc).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
}

func TestBalanceCacheRejectsStaleFill(t *testing.T) {
	c := NewBalanceCache()

	_, gen, ok := c.Lookup("a")
	assert.False(t, ok)
	c.Invalidate("a")
	c.Fill("a", 10, gen)
	_, _, ok = c.Lookup("a")
	assert.False(t, ok, "fill after invalidation must be dropped")

	_, gen, _ = c.Lookup("a")
	c.Fill("a", 7, gen)
	bal, _, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, int64(7), bal)

	c.InvalidateAll()
	_, _, ok = c.Lookup("a")
	assert.False(t, ok)

	var nilCache *BalanceCache
	nilCache.InvalidateAll()
	nilCache.Invalidate("a")
	_, _, ok = nilCache.Lookup("a")
	assert.False(t, ok)
}

func TestBalanceCacheDropsFillAcrossInvalidateAll(t *testing.T) {
	c := NewBalanceCache()

	// A read of an uncached account is in flight when the listener reconnects.
	_, stamp, ok := c.Lookup("b")
	require.False(t, ok)
	c.InvalidateAll()
	c.Fill("b", 42, stamp)
	_, _, ok = c.Lookup("b")
	assert.False(t, ok)

	_, stamp, _ = c.Lookup("b")
	c.Fill("b", 41, stamp)
	bal, _, ok := c.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, int64(41), bal)
}
