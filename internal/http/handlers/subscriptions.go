package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"quizora/internal/middleware"
)

// subscribeRequest is sent by billing operators once a plan purchase has
// been paid. PaymentRef identifies the captured payment.
type subscribeRequest struct {
	Plan       string `json:"plan"`
	PaymentRef string `json:"payment_ref"`
}

type subscriptionResponse struct {
	Subscription *grantDTO `json:"subscription"`
	Balance      int64     `json:"balance"`
	Reclaimed    *int64    `json:"reclaimed,omitempty"`
}

// AdminSubscribe grants a paid plan to an account. The ledger refuses a
// second active grant, so replaying the call cannot stack credits.
func (a *App) AdminSubscribe(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	var req subscribeRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.PaymentRef = strings.TrimSpace(req.PaymentRef)
	if req.PaymentRef == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "payment_ref is required")
		return
	}
	if _, err := a.Ledger.Account(r.Context(), accountID); err != nil {
		a.fail(w, r, err, nil)
		return
	}
	grant, bal, err := a.Ledger.Subscribe(r.Context(), accountID, req.Plan)
	if err != nil {
		a.fail(w, r, err, nil)
		return
	}
	a.Logger.Info().Str("admin_id", a.currentUserID(r)).Str("account_id", accountID).Str("grant_id", grant.ID).
		Str("payment_ref", req.PaymentRef).Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("admin granted subscription")
	a.json(w, http.StatusCreated, subscriptionResponse{Subscription: toGrantDTO(grant), Balance: bal})
}
