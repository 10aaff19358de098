package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"quizora/internal/ledger"
	"quizora/internal/middleware"
	"quizora/internal/tutor"
)

const maxBodyBytes = 16 << 20

// AttachmentRemover deletes stored attachments. storage.FileStore satisfies
// it.
type AttachmentRemover interface {
	RemoveAll(ctx context.Context, key string) error
}

// App holds the dependencies of the HTTP handlers.
type App struct {
	Ledger  *ledger.Service
	History *ledger.History
	Tutor   *tutor.Tutor
	Logger  zerolog.Logger
	// Files holds uploaded attachments. Nil skips cleanup on account
	// deletion.
	Files AttachmentRemover
	// Ready reports whether backing stores are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error
}

func NewApp(svc *ledger.Service, history *ledger.History, t *tutor.Tutor, logger zerolog.Logger) *App {
	return &App{Ledger: svc, History: history, Tutor: t, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	middleware.WriteJSON(w, code, v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	middleware.WriteError(w, code, errCode, message)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// decode reads a JSON body into v, rejecting unknown fields.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
