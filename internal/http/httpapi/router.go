package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"quizora/internal/http/handlers"
	"quizora/internal/middleware"
)

// Options configures the cross-cutting middleware of the router.
type Options struct {
	Logger        zerolog.Logger
	JWTSecret     string
	CORSOrigins   []string
	Limiter       middleware.Limiter
	CountryLookup middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.Locale(opts.CountryLookup),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(opts.JWTSecret),
			middleware.EnsureAccount(app.Ledger, opts.Logger),
		)

		r.Get("/me", app.Me)
		r.Get("/tools", app.Tools)
		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(middleware.RateLimit(opts.Limiter, opts.Logger))
			}
			r.Post("/tools/{kind}", app.InvokeTool)
		})

		r.Get("/history", app.UsageHistory)
		r.Get("/history/threads", app.Threads)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/accounts/{id}/credits", app.AdminGrantCredits)
			r.Post("/accounts/{id}/subscriptions", app.AdminSubscribe)
			r.Get("/accounts/{id}/usage", app.AdminAccountUsage)
			r.Delete("/accounts/{id}", app.AdminDeleteAccount)
			r.Post("/subscriptions/{id}/cancel", app.AdminCancelSubscription)
		})
	})

	return r
}
