package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDReusesOrGenerates(t *testing.T) {
	tests := map[string]struct {
		header string
		keep   bool
	}{
		"edge id":  {header: "edge-123", keep: true},
		"missing":  {header: ""},
		"too long": {header: strings.Repeat("a", 200)},
		"spaces":   {header: "two words"},
		"newline":  {header: "a\nb"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header["X-Request-Id"] = []string{tc.header}
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.NotEmpty(t, seen)
			assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))
			if tc.keep {
				assert.Equal(t, tc.header, seen)
			} else {
				assert.NotEqual(t, tc.header, seen)
			}
		})
	}
}
