package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"quizora/internal/domain"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// History is the read-only projection over usage events.
type History struct {
	store domain.LedgerStore
}

func NewHistory(store domain.LedgerStore) *History {
	return &History{store: store}
}

// ListQuery selects a page of history. Cursor is the opaque value returned
// as NextCursor by the previous page.
type ListQuery struct {
	AccountID string
	SessionID string
	Kind      domain.OperationKind
	Status    domain.UsageStatus
	Cursor    string
	Limit     int
}

type HistoryPage struct {
	Events     []domain.UsageEvent
	NextCursor string
}

type ThreadPage struct {
	Threads    []domain.ConversationThread
	NextCursor string
}

// List returns events newest first.
func (h *History) List(ctx context.Context, q ListQuery) (HistoryPage, error) {
	if q.AccountID == "" {
		return HistoryPage{}, fmt.Errorf("%w: account id is required", domain.ErrInvalidRequest)
	}
	cursor, err := DecodeCursor(q.Cursor)
	if err != nil {
		return HistoryPage{}, err
	}
	limit := clampLimit(q.Limit)
	events, err := h.store.ListEvents(ctx, domain.HistoryQuery{
		AccountID: q.AccountID,
		SessionID: q.SessionID,
		Kind:      q.Kind,
		Status:    q.Status,
		Before:    cursor,
		Limit:     limit + 1,
	})
	if err != nil {
		return HistoryPage{}, err
	}
	page := HistoryPage{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		last := page.Events[limit-1]
		page.NextCursor = EncodeCursor(domain.HistoryCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// Threads groups one page of chat turns by session. Threads are ordered by
// last activity, turns inside a thread oldest first. A session that straddles
// a page boundary shows up partially on both pages.
func (h *History) Threads(ctx context.Context, accountID, cursor string, limit int) (ThreadPage, error) {
	page, err := h.List(ctx, ListQuery{
		AccountID: accountID,
		Kind:      domain.KindChatTurn,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return ThreadPage{}, err
	}
	return ThreadPage{Threads: GroupThreads(page.Events), NextCursor: page.NextCursor}, nil
}

// SessionTurns returns the last n committed turns of a chat session, oldest
// first.
func (h *History) SessionTurns(ctx context.Context, accountID, sessionID string, n int) ([]domain.UsageEvent, error) {
	if sessionID == "" || n <= 0 {
		return nil, nil
	}
	events, err := h.store.ListEvents(ctx, domain.HistoryQuery{
		AccountID: accountID,
		SessionID: sessionID,
		Kind:      domain.KindChatTurn,
		Status:    domain.UsageStatusCommitted,
		Limit:     n,
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// GroupThreads folds newest-first events into conversation threads. Events
// without a session id are skipped.
func GroupThreads(events []domain.UsageEvent) []domain.ConversationThread {
	index := make(map[string]int)
	var threads []domain.ConversationThread
	for _, ev := range events {
		if ev.SessionID == "" {
			continue
		}
		i, ok := index[ev.SessionID]
		if !ok {
			i = len(threads)
			index[ev.SessionID] = i
			threads = append(threads, domain.ConversationThread{SessionID: ev.SessionID})
		}
		threads[i].Events = append(threads[i].Events, ev)
	}
	for i := range threads {
		t := &threads[i]
		sort.SliceStable(t.Events, func(a, b int) bool { return t.Events[a].CreatedAt.Before(t.Events[b].CreatedAt) })
		t.StartedAt = t.Events[0].CreatedAt
		t.LastActivity = t.Events[len(t.Events)-1].CreatedAt
		for _, ev := range t.Events {
			t.TotalCost += ev.ActualCost
		}
	}
	sort.SliceStable(threads, func(a, b int) bool { return threads[a].LastActivity.After(threads[b].LastActivity) })
	return threads
}

// EncodeCursor serializes a keyset position.
func EncodeCursor(c domain.HistoryCursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty string
// means the first page.
func DecodeCursor(s string) (*domain.HistoryCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidRequest)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidRequest)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidRequest)
	}
	return &domain.HistoryCursor{CreatedAt: at, ID: id}, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultHistoryLimit
	case n > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return n
	}
}
