package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"quizora/internal/domain"
	"quizora/internal/ledger"
)

func parseLimit(r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (a *App) historyQuery(w http.ResponseWriter, r *http.Request, accountID string) (ledger.ListQuery, bool) {
	q := r.URL.Query()
	limit, ok := parseLimit(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
		return ledger.ListQuery{}, false
	}
	lq := ledger.ListQuery{
		AccountID: accountID,
		SessionID: strings.TrimSpace(q.Get("session_id")),
		Cursor:    strings.TrimSpace(q.Get("cursor")),
		Limit:     limit,
	}
	if raw := strings.TrimSpace(q.Get("kind")); raw != "" {
		kind, err := domain.ParseOperationKind(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return ledger.ListQuery{}, false
		}
		lq.Kind = kind
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		switch st := domain.UsageStatus(raw); st {
		case domain.UsageStatusPending, domain.UsageStatusCommitted, domain.UsageStatusRefunded, domain.UsageStatusFailed:
			lq.Status = st
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status")
			return ledger.ListQuery{}, false
		}
	}
	return lq, true
}

// UsageHistory lists the caller's usage events, newest first.
func (a *App) UsageHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	a.writeHistory(w, r, userID)
}

func (a *App) writeHistory(w http.ResponseWriter, r *http.Request, accountID string) {
	q, ok := a.historyQuery(w, r, accountID)
	if !ok {
		return
	}
	page, err := a.History.List(r.Context(), q)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":       toEventDTOs(page.Events),
		"next_cursor": page.NextCursor,
	})
}

// Threads lists chat conversations grouped by session.
func (a *App) Threads(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
		return
	}
	page, err := a.History.Threads(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"threads":     toThreadDTOs(page.Threads),
		"next_cursor": page.NextCursor,
	})
}
