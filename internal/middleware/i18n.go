package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// AnswerLanguages are the languages the tutor answers in. The first entry is
// the fallback.
var AnswerLanguages = []language.Tag{
	language.English,
	language.Indonesian,
	language.Malay,
	language.Spanish,
	language.Portuguese,
	language.French,
	language.German,
	language.Vietnamese,
	language.Thai,
	language.Japanese,
	language.Korean,
	language.SimplifiedChinese,
	language.Arabic,
	language.Hindi,
}

var answerMatcher = language.NewMatcher(AnswerLanguages)

// countryLanguages picks an answer language when the client sent no language
// preference at all.
var countryLanguages = map[string]language.Tag{
	"ID": language.Indonesian,
	"MY": language.Malay,
	"BN": language.Malay,
	"VN": language.Vietnamese,
	"TH": language.Thai,
	"BR": language.Portuguese,
	"MX": language.Spanish,
	"ES": language.Spanish,
}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// Locale negotiates the answer language and tags the request with the
// caller's country, which is stored on usage events.
func Locale(lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, country string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if tag, ok := matchLanguage(v); ok {
			return tag
		}
	}
	if v := strings.TrimSpace(r.Header.Get("Accept-Language")); v != "" {
		if tag, ok := matchLanguage(v); ok {
			return tag
		}
	}
	if tag, ok := countryLanguages[strings.ToUpper(country)]; ok {
		return baseLanguage(tag)
	}
	return baseLanguage(AnswerLanguages[0])
}

// matchLanguage maps an Accept-Language style preference list onto the
// supported answer languages. It reports false when nothing matched with at
// least low confidence.
func matchLanguage(pref string) (string, bool) {
	tags, _, err := language.ParseAcceptLanguage(pref)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, conf := answerMatcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return baseLanguage(AnswerLanguages[idx]), true
}

func baseLanguage(tag language.Tag) string {
	if tag == language.SimplifiedChinese {
		return "zh-Hans"
	}
	base, _ := tag.Base()
	return base.String()
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given
// request: edge headers first, then the GeoIP database, then the region of
// the language preference.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" && !strings.EqualFold(val, "XX") {
			return strings.ToUpper(val)
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	return localeRegion(r.Header.Get("Accept-Language"))
}

func localeRegion(accept string) string {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}
