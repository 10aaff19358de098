package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizora/internal/middleware"
	"quizora/internal/tutor"
)

type grantCreditsRequest struct {
	Amount int64 `json:"amount"`
}

// AdminGrantCredits adds credits to an account.
func (a *App) AdminGrantCredits(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	var req grantCreditsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	bal, err := a.Ledger.Grant(r.Context(), accountID, req.Amount)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.Logger.Info().Str("admin_id", a.currentUserID(r)).Str("account_id", accountID).
		Int64("amount", req.Amount).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("admin granted credits")
	a.json(w, http.StatusOK, map[string]any{"account_id": accountID, "balance": bal})
}

// AdminCancelSubscription cancels a grant and reclaims its unused credits.
func (a *App) AdminCancelSubscription(w http.ResponseWriter, r *http.Request) {
	grant, reclaimed, bal, err := a.Ledger.CancelSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.json(w, http.StatusOK, subscriptionResponse{Subscription: toGrantDTO(grant), Balance: bal, Reclaimed: &reclaimed})
}

// AdminAccountUsage returns the account, its subscription and a page of its
// usage history.
func (a *App) AdminAccountUsage(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := a.Ledger.Account(r.Context(), accountID); err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.writeHistory(w, r, accountID)
}

// AdminDeleteAccount removes an account with its events and grants.
func (a *App) AdminDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == a.currentUserID(r) {
		a.error(w, http.StatusBadRequest, "bad_request", "admins cannot delete their own account")
		return
	}
	if err := a.Ledger.DeleteAccount(r.Context(), accountID); err != nil {
		a.fail(w, r, err, nil)
		return
	}
	if a.Files != nil {
		if err := a.Files.RemoveAll(r.Context(), tutor.AttachmentDir(accountID)); err != nil {
			a.Logger.Error().Err(err).Str("account_id", accountID).Msg("remove attachments failed")
		}
	}
	a.Logger.Warn().Str("admin_id", a.currentUserID(r)).Str("account_id", accountID).Msg("admin deleted account")
	w.WriteHeader(http.StatusNoContent)
}
