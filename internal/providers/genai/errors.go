package genai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"quizora/internal/domain"
)

// ProviderError is a classified Gemini failure. Kind is one of
// domain.ErrRateLimited, domain.ErrQuotaExceeded, domain.ErrTransient or
// domain.ErrFatal, so callers match it with errors.Is.
type ProviderError struct {
	Kind       error
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("gemini: ")
	b.WriteString(e.Kind.Error())
	if e.Status > 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the adapter itself may retry the call.
func (e *ProviderError) Retryable() bool {
	return errors.Is(e.Kind, domain.ErrTransient)
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

const maxErrorMessageRunes = 300

// truncateMessage keeps at most n runes and always returns valid UTF-8.
func truncateMessage(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// classifyStatus maps a non-2xx Gemini response onto the error taxonomy.
func classifyStatus(status int, header http.Header, body []byte) *ProviderError {
	message := strings.TrimSpace(string(body))
	var apiErr geminiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	message = truncateMessage(message, maxErrorMessageRunes)
	pe := &ProviderError{Status: status, Message: message}

	switch {
	case status == http.StatusTooManyRequests:
		pe.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
		if mentionsQuota(message) {
			pe.Kind = domain.ErrQuotaExceeded
		} else {
			pe.Kind = domain.ErrRateLimited
		}
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		pe.Kind = domain.ErrTransient
	default:
		pe.Kind = domain.ErrFatal
	}
	return pe
}

func mentionsQuota(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "quota") || strings.Contains(m, "billing")
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func transient(err error, message string) *ProviderError {
	return &ProviderError{Kind: domain.ErrTransient, Message: message, Err: err}
}

func fatal(message string) *ProviderError {
	return &ProviderError{Kind: domain.ErrFatal, Message: message}
}
