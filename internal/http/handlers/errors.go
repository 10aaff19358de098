package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quizora/internal/domain"
	"quizora/internal/middleware"
	"quizora/internal/providers/genai"
)

type errorMapping struct {
	status int
	code   string
}

// statusFor maps the error taxonomy onto HTTP. Order matters: provider kinds
// are checked before generic ones.
func statusFor(err error) errorMapping {
	switch {
	case errors.Is(err, domain.ErrInsufficient):
		return errorMapping{http.StatusPaymentRequired, "insufficient_credits"}
	case errors.Is(err, domain.ErrRateLimited):
		return errorMapping{http.StatusTooManyRequests, "rate_limited"}
	case errors.Is(err, domain.ErrQuotaExceeded):
		return errorMapping{http.StatusTooManyRequests, "quota_exceeded"}
	case errors.Is(err, domain.ErrTransient):
		return errorMapping{http.StatusServiceUnavailable, "service_busy"}
	case errors.Is(err, domain.ErrFatal):
		return errorMapping{http.StatusBadGateway, "generation_failed"}
	case errors.Is(err, domain.ErrPersistence):
		return errorMapping{http.StatusServiceUnavailable, "unavailable"}
	case errors.Is(err, domain.ErrNotFound):
		return errorMapping{http.StatusNotFound, "not_found"}
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnsupportedPlan):
		return errorMapping{http.StatusBadRequest, "bad_request"}
	case errors.Is(err, domain.ErrNotActive):
		return errorMapping{http.StatusConflict, "subscription_not_active"}
	case errors.Is(err, domain.ErrAlreadyActive):
		return errorMapping{http.StatusConflict, "subscription_active"}
	case errors.Is(err, domain.ErrEventResolved):
		return errorMapping{http.StatusConflict, "conflict"}
	case errors.Is(err, domain.ErrUnauthorized):
		return errorMapping{http.StatusUnauthorized, "unauthorized"}
	case errors.Is(err, domain.ErrForbidden):
		return errorMapping{http.StatusForbidden, "forbidden"}
	case errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, "timeout"}
	default:
		return errorMapping{http.StatusInternalServerError, "internal"}
	}
}

// publicMessage hides internals of unexpected errors.
func publicMessage(m errorMapping, err error) string {
	switch m.code {
	case "internal":
		return "internal error"
	case "unavailable":
		return "service temporarily unavailable"
	case "insufficient_credits":
		return "not enough credits"
	case "rate_limited":
		return "the AI provider is rate limiting requests, try again shortly"
	case "quota_exceeded":
		return "the AI provider quota is exhausted"
	case "service_busy":
		return "the AI provider is busy, your credits were refunded"
	case "generation_failed":
		return "the AI provider could not answer this request, your credits were refunded"
	}
	return err.Error()
}

// fail writes the error envelope for err. balance is included when known.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, balance *int64) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody reads the response.
		return
	}
	m := statusFor(err)
	env := middleware.ErrorEnvelope{
		Error:   middleware.ErrorBody{Code: m.code, Message: publicMessage(m, err)},
		Balance: balance,
	}
	var insufficient *domain.InsufficientError
	if errors.As(err, &insufficient) {
		bal, shortfall := insufficient.Balance, insufficient.Shortfall()
		env.Balance, env.Shortfall = &bal, &shortfall
	}
	var pe *genai.ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((pe.RetryAfter+time.Second-1)/time.Second)))
	}

	ev := a.Logger.Warn()
	if m.status >= 500 {
		ev = a.Logger.Error()
	}
	ev.Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("account_id", a.currentUserID(r)).
		Int("status", m.status).
		Msg("request failed")

	a.json(w, m.status, env)
}
