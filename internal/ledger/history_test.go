package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizora/internal/domain"
)

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	svc, store := newTestService(t)
	seedAccount(t, store, "hist", 100)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := svc.Charge(ctx, ChargeRequest{AccountID: "hist", Kind: domain.KindTextQuestion}, succeed(fmt.Sprintf("answer %d", i)))
		require.NoError(t, err)
	}

	h := NewHistory(store)
	var seen []string
	cursor := ""
	pages := 0
	for {
		page, err := h.List(ctx, ListQuery{AccountID: "hist", Cursor: cursor, Limit: 3})
		require.NoError(t, err)
		pages++
		for _, ev := range page.Events {
			seen = append(seen, *ev.Output)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"answer 6", "answer 5", "answer 4", "answer 3", "answer 2", "answer 1", "answer 0"}, seen)
}

func TestHistoryFiltersAndLimits(t *testing.T) {
	svc, store := newTestService(t)
	seedAccount(t, store, "filter", 100)
	seedAccount(t, store, "other", 100)
	ctx := context.Background()

	_, err := svc.Charge(ctx, ChargeRequest{AccountID: "filter", Kind: domain.KindMindMap}, succeed("{}"))
	require.NoError(t, err)
	_, err = svc.Charge(ctx, ChargeRequest{AccountID: "filter", Kind: domain.KindTextQuestion}, fail(domain.ErrFatal))
	require.Error(t, err)
	_, err = svc.Charge(ctx, ChargeRequest{AccountID: "other", Kind: domain.KindMindMap}, succeed("{}"))
	require.NoError(t, err)

	h := NewHistory(store)
	page, err := h.List(ctx, ListQuery{AccountID: "filter"})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
	assert.Empty(t, page.NextCursor)

	page, err = h.List(ctx, ListQuery{AccountID: "filter", Kind: domain.KindMindMap})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, domain.UsageStatusCommitted, page.Events[0].Status)

	page, err = h.List(ctx, ListQuery{AccountID: "filter", Status: domain.UsageStatusRefunded})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, domain.KindTextQuestion, page.Events[0].Kind)

	_, err = h.List(ctx, ListQuery{AccountID: "filter", Cursor: "%%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = h.List(ctx, ListQuery{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Equal(t, DefaultHistoryLimit, clampLimit(0))
	assert.Equal(t, MaxHistoryLimit, clampLimit(1000))
	assert.Equal(t, 7, clampLimit(7))
}

func TestThreadsGroupChatTurnsBySession(t *testing.T) {
	svc, store := newTestService(t)
	seedAccount(t, store, "chat", 100)
	ctx := context.Background()

	turns := []struct{ session, out string }{
		{"s-1", "hello"},
		{"s-2", "bonjour"},
		{"s-1", "again"},
		{"s-2", "encore"},
		{"s-1", "third"},
	}
	for _, turn := range turns {
		_, err := svc.Charge(ctx, ChargeRequest{AccountID: "chat", Kind: domain.KindChatTurn, SessionID: turn.session}, succeed(turn.out))
		require.NoError(t, err)
	}
	_, err := svc.Charge(ctx, ChargeRequest{AccountID: "chat", Kind: domain.KindTextQuestion}, succeed("not chat"))
	require.NoError(t, err)

	page, err := NewHistory(store).Threads(ctx, "chat", "", 0)
	require.NoError(t, err)
	require.Len(t, page.Threads, 2)

	first := page.Threads[0]
	assert.Equal(t, "s-1", first.SessionID)
	require.Len(t, first.Events, 3)
	assert.Equal(t, "hello", *first.Events[0].Output)
	assert.Equal(t, "third", *first.Events[2].Output)
	assert.Equal(t, int64(3), first.TotalCost)
	assert.True(t, first.StartedAt.Before(first.LastActivity))

	assert.Equal(t, "s-2", page.Threads[1].SessionID)
	assert.Len(t, page.Threads[1].Events, 2)
}

func TestSessionTurnsReturnsRecentCommittedOldestFirst(t *testing.T) {
	svc, store := newTestService(t)
	seedAccount(t, store, "ctx", 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Charge(ctx, ChargeRequest{AccountID: "ctx", Kind: domain.KindChatTurn, SessionID: "s"}, succeed(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}
	_, err := svc.Charge(ctx, ChargeRequest{AccountID: "ctx", Kind: domain.KindChatTurn, SessionID: "s"}, fail(domain.ErrTransient))
	require.Error(t, err)

	turns, err := NewHistory(store).SessionTurns(ctx, "ctx", "s", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "t2", *turns[0].Output)
	assert.Equal(t, "t4", *turns[2].Output)

	none, err := NewHistory(store).SessionTurns(ctx, "ctx", "", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCursorRoundTrip(t *testing.T) {
	in := domain.HistoryCursor{CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC), ID: "abc"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
