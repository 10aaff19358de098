package genai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizora/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const okBody = `{"candidates":[{"content":{"parts":[{"text":"Photosynthesis "},{"text":"turns light into sugar."}]},"finishReason":"STOP"}],
"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":7},"modelVersion":"gemini-2.5-flash-001"}`

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestClient(rt roundTripFunc, sleeps *recordedSleeps) *Client {
	return NewClient(Options{
		APIKey:     "test-key",
		Model:      "gemini-2.5-flash",
		HTTPClient: &http.Client{Transport: rt},
		Sleep:      sleeps.sleep,
	})
}

func TestGenerateBuildsRequestAndParsesResponse(t *testing.T) {
	var captured map[string]any
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		return jsonResponse(http.StatusOK, okBody), nil
	}, &recordedSleeps{})

	resp, err := client.Generate(context.Background(), Request{
		Kind:        domain.KindImageQuestion,
		System:      "You are a tutor.",
		History:     []Turn{{Role: "user", Text: "hi"}, {Role: "model", Text: "hello"}},
		Prompt:      "What is in this picture?",
		Attachments: []Attachment{{MimeType: "image/png", Data: []byte{1, 2, 3}}},
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis turns light into sugar.", resp.Text)
	assert.Equal(t, int64(12), resp.PromptTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)
	assert.Equal(t, "gemini-2.5-flash-001", resp.Model)
	assert.Equal(t, 1, resp.Attempts)
	assert.False(t, resp.Synthetic)

	contents := captured["contents"].([]any)
	require.Len(t, contents, 3)
	last := contents[2].(map[string]any)
	parts := last["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/png", inline["mimeType"])
	assert.Equal(t, "AQID", inline["data"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])

	cfg := captured["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	assert.NotNil(t, captured["systemInstruction"])
}

func TestGenerateClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		header   http.Header
		kind     error
		attempts int32
	}{
		{"quota", 429, `{"error":{"code":429,"message":"You exceeded your current quota, please check your plan","status":"RESOURCE_EXHAUSTED"}}`, nil, domain.ErrQuotaExceeded, 1},
		{"rate", 429, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check rate)."}}`, http.Header{"Retry-After": []string{"7"}}, domain.ErrRateLimited, 1},
		{"bad request", 400, `{"error":{"code":400,"message":"Invalid JSON payload"}}`, nil, domain.ErrFatal, 1},
		{"unauthorized", 403, `{"error":{"code":403,"message":"API key not valid"}}`, nil, domain.ErrFatal, 1},
		{"unavailable", 503, `{"error":{"code":503,"message":"The model is overloaded"}}`, nil, domain.ErrTransient, 3},
		{"no candidates", 200, `{"candidates":[]}`, nil, domain.ErrFatal, 1},
		{"safety", 200, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`, nil, domain.ErrFatal, 1},
		{"blocked prompt", 200, `{"promptFeedback":{"blockReason":"OTHER"}}`, nil, domain.ErrFatal, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(func(r *http.Request) (*http.Response, error) {
				calls.Add(1)
				resp := jsonResponse(tc.status, tc.body)
				for k, v := range tc.header {
					resp.Header[k] = v
				}
				return resp, nil
			}, &recordedSleeps{})

			_, err := client.Generate(context.Background(), Request{Kind: domain.KindTextQuestion, Prompt: "q"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.True(t, domain.IsProviderError(err))
			assert.Equal(t, tc.attempts, calls.Load())

			if tc.name == "rate" {
				var pe *ProviderError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, 7*time.Second, pe.RetryAfter)
				assert.Equal(t, 429, pe.Status)
			}
		})
	}
}

func TestClassifyStatusTruncatesMessageOnRuneBoundary(t *testing.T) {
	// 299 ASCII bytes put the 300-byte cut inside the first "é".
	message := strings.Repeat("a", 299) + strings.Repeat("é", 20)
	body, err := json.Marshal(map[string]any{"error": map[string]any{"code": 400, "message": message}})
	require.NoError(t, err)

	pe := classifyStatus(http.StatusBadRequest, http.Header{}, body)
	assert.True(t, utf8.ValidString(pe.Message))
	assert.Equal(t, maxErrorMessageRunes, utf8.RuneCountInString(pe.Message))
	assert.Equal(t, strings.Repeat("a", 299)+"é", pe.Message)
	assert.ErrorIs(t, pe, domain.ErrFatal)

	raw := classifyStatus(http.StatusBadGateway, http.Header{}, []byte("upstream \xff\xfe broke"))
	assert.True(t, utf8.ValidString(raw.Message))
}

func TestGenerateRetriesTransientWithBackoff(t *testing.T) {
	var calls atomic.Int32
	sleeps := &recordedSleeps{}
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return jsonResponse(http.StatusInternalServerError, `{"error":{"message":"internal"}}`), nil
		}
		return jsonResponse(http.StatusOK, okBody), nil
	}, sleeps)

	resp, err := client.Generate(context.Background(), Request{Kind: domain.KindTextQuestion, Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestGenerateTreatsTimeoutAsTransient(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		<-r.Context().Done()
		return nil, r.Context().Err()
	}, &recordedSleeps{})

	_, err := client.Generate(context.Background(), Request{Kind: domain.KindBookChapter, Prompt: "q", Timeout: 5 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateNetworkErrorIsTransient(t *testing.T) {
	client := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, io.ErrUnexpectedEOF
		})},
		Retry: &RetryPolicy{MaxRetries: 0},
	})
	_, err := client.Generate(context.Background(), Request{Prompt: "q"})
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestGenerateStopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		cancel()
		return nil, context.Canceled
	}, &recordedSleeps{})

	_, err := client.Generate(ctx, Request{Prompt: "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsProviderError(err))
}

func TestGenerateWithoutKeyIsSynthetic(t *testing.T) {
	client := NewClient(Options{Model: "gemini-test"})
	require.True(t, client.Synthetic())

	a, err := client.Generate(context.Background(), Request{Kind: domain.KindMindMap, Prompt: "Cell biology", JSON: true})
	require.NoError(t, err)
	b, err := client.Generate(context.Background(), Request{Kind: domain.KindMindMap, Prompt: "Cell biology", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, a.Text, b.Text)
	assert.True(t, a.Synthetic)

	payload, err := ParseJSON[map[string]any](a.Text)
	require.NoError(t, err)
	assert.Equal(t, "Cell biology", payload["summary"])

	plain, err := client.Generate(context.Background(), Request{Kind: domain.KindTextQuestion, Prompt: "Why is the sky blue?"})
	require.NoError(t, err)
	assert.Contains(t, plain.Text, "Why is the sky blue?")

	_, err = client.Generate(context.Background(), Request{Prompt: "  "})
	assert.ErrorIs(t, err, domain.ErrFatal)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 30*time.Second, p.Delay(10))
}
