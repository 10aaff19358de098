package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *http.Request)
		country string
		want    string
	}{
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "id-ID")
				r.Header.Set("Accept-Language", "en-US")
			},
			country: "US",
			want:    "id",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-US,en;q=0.9")
			},
			want: "en",
		},
		{
			name: "unsupported preference skipped",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "sw, fr-CA;q=0.9")
			},
			want: "fr",
		},
		{
			name: "regional variant matches base",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "pt-BR")
			},
			want: "pt",
		},
		{
			name:    "country picks language without preference",
			country: "ID",
			want:    "id",
		},
		{
			name:    "unknown country falls back to english",
			country: "US",
			want:    "en",
		},
		{
			name: "default to en",
			want: "en",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			assert.Equal(t, tc.want, detectLocale(req, tc.country))
		})
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		resolver CountryLookup
		want     string
	}{
		{
			name: "header precedence",
			setup: func(r *http.Request) {
				r.Header.Set("X-Country-Code", "us")
				r.Header.Set("CF-IPCountry", "id")
			},
			want: "US",
		},
		{
			name: "unknown edge country ignored",
			setup: func(r *http.Request) {
				r.Header.Set("CF-IPCountry", "XX")
				r.Header.Set("Accept-Language", "en-GB")
			},
			want: "GB",
		},
		{
			name: "resolver before language region",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-GB,en;q=0.9")
			},
			resolver: func(ip string) (string, error) {
				require.Equal(t, "203.0.113.4", ip)
				return "my", nil
			},
			want: "MY",
		},
		{
			name: "locale region fallback",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "en-AU")
			},
			want: "AU",
		},
		{
			name: "resolver error returns empty",
			resolver: func(ip string) (string, error) {
				return "", errors.New("boom")
			},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			if tc.setup != nil {
				tc.setup(req)
			}
			assert.Equal(t, tc.want, ResolveCountry(req, tc.resolver))
		})
	}
}

func TestLocaleMiddlewareStoresContext(t *testing.T) {
	var locale, country string
	h := Locale(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ms-MY")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "ms", locale)
	assert.Equal(t, "MY", country)
	assert.Equal(t, "ms", rr.Header().Get("Content-Language"))
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "en", LocaleFromContext(ctx))
	ctx = context.WithValue(ctx, LocaleKey, "id")
	assert.Equal(t, "id", LocaleFromContext(ctx))
}
