package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizora/internal/domain"
	"quizora/internal/middleware"
	"quizora/internal/tutor"
)

type invokeResponse struct {
	EventID    string `json:"event_id"`
	Kind       string `json:"kind"`
	Output     string `json:"output"`
	Structured any    `json:"structured,omitempty"`
	Cost       int64  `json:"cost"`
	Balance    int64  `json:"balance"`
	SessionID  string `json:"session_id,omitempty"`
	Synthetic  bool   `json:"synthetic,omitempty"`
}

// InvokeTool runs one metered tool for the caller.
func (a *App) InvokeTool(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	kind, err := domain.ParseOperationKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	var payload tutor.Payload
	if !a.decode(w, r, &payload) {
		return
	}

	res, err := a.Tutor.Invoke(r.Context(), tutor.Invocation{
		AccountID: userID,
		Kind:      kind,
		Payload:   payload,
		Country:   middleware.CountryFromContext(r.Context()),
		Language:  middleware.LocaleFromContext(r.Context()),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		var balance *int64
		if res != nil {
			balance = &res.Balance
		}
		a.fail(w, r, err, balance)
		return
	}
	a.json(w, http.StatusOK, invokeResponse{
		EventID:    res.EventID,
		Kind:       string(res.Kind),
		Output:     res.Output,
		Structured: res.Structured,
		Cost:       res.Cost,
		Balance:    res.Balance,
		SessionID:  res.SessionID,
		Synthetic:  res.Synthetic,
	})
}

