package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"quizora/internal/domain"
)

// AccountProvisioner creates the account of an identity seen for the first
// time. ledger.Service satisfies it.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, id, email string, role domain.AccountRole) (*domain.Account, error)
}

// EnsureAccount provisions the caller's account on its first authenticated
// request. It must run after AuthJWT.
func EnsureAccount(accounts AccountProvisioner, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id.AccountID == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
				return
			}
			if _, err := accounts.EnsureAccount(r.Context(), id.AccountID, id.Email, id.Role); err != nil {
				logger.Error().Err(err).Str("account_id", id.AccountID).
					Str("request_id", RequestIDFromContext(r.Context())).Msg("ensure account failed")
				if errors.Is(err, domain.ErrInvalidRequest) {
					WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "unavailable", "account store unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
