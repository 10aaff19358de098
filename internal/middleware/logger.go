package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

type logFieldsKey struct{}

// logFields collects values that handlers further down learn about the
// request, such as the authenticated account.
type logFields struct {
	accountID string
}

func annotateAccount(ctx context.Context, accountID string) {
	if lf, ok := ctx.Value(logFieldsKey{}).(*logFields); ok {
		lf.accountID = accountID
	}
}

// Logger emits one line per request. Server errors log at error level, client
// errors at warn.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			lf := &logFields{}
			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, lf)))

			ev := l.Info()
			switch {
			case rw.status >= 500:
				ev = l.Error()
			case rw.status >= 400:
				ev = l.Warn()
			}
			ev.Str("request_id", RequestIDFromContext(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Int("bytes", rw.bytes).
				Dur("duration", time.Since(start))
			if lf.accountID != "" {
				ev.Str("account_id", lf.accountID)
			}
			ev.Msg("http request")
		})
	}
}
