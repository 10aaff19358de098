package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quizora/internal/domain"
	"quizora/internal/infra"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4096
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Retry      *RetryPolicy
	// Sleep waits between retries. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client calls Gemini generateContent with a normalized request and a
// normalized error taxonomy. It never touches the credit ledger. Without an
// API key it returns deterministic synthetic text so local environments work.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
	retry      RetryPolicy
	sleep      func(ctx context.Context, d time.Duration) error
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Attachment is inline media sent with the prompt.
type Attachment struct {
	MimeType string
	Data     []byte
}

// Request is the normalized generation input.
type Request struct {
	Kind        domain.OperationKind
	System      string
	History     []Turn
	Prompt      string
	Attachments []Attachment
	JSON        bool
	Temperature float64
	Timeout     time.Duration
	RequestID   string
}

// Response is the normalized generation output.
type Response struct {
	Text         string
	PromptTokens int64
	OutputTokens int64
	Model        string
	Latency      time.Duration
	Attempts     int
	Synthetic    bool
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	CandidateCount   int      `json:"candidateCount,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiGenerateContentRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; per-call deadlines come from the request context.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}

	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
		retry:      retry,
		sleep:      sleep,
	}
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Synthetic reports whether the client runs without an API key.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// Generate runs one generation. Transient failures, including a per-call
// timeout, are retried according to the retry policy; rate and quota limits
// are returned immediately.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Attachments) == 0 {
		return nil, fatal("empty prompt")
	}
	if c.apiKey == "" {
		return c.synthetic(req), nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, fatal(fmt.Sprintf("marshal request: %v", err))
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, body, timeout)
		if err == nil {
			resp.Latency = time.Since(start)
			resp.Attempts = attempt + 1
			c.logger.Debug().
				Str("request_id", req.RequestID).
				Str("kind", string(req.Kind)).
				Str("model", resp.Model).
				Int("attempts", resp.Attempts).
				Dur("latency", resp.Latency).
				Msg("genai: generation completed")
			return resp, nil
		}

		var pe *ProviderError
		if ctx.Err() != nil || !errors.As(err, &pe) || !pe.Retryable() || attempt >= c.retry.MaxRetries {
			c.logger.Warn().
				Err(err).
				Str("request_id", req.RequestID).
				Str("kind", string(req.Kind)).
				Int("attempts", attempt+1).
				Msg("genai: generation failed")
			return nil, err
		}

		delay := c.retry.Delay(attempt)
		c.logger.Info().
			Err(err).
			Str("request_id", req.RequestID).
			Str("kind", string(req.Kind)).
			Dur("backoff", delay).
			Msg("genai: retrying transient failure")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, body []byte, timeout time.Duration) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out geminiGenerateContentResponse
	if err := c.invokeGemini(callCtx, body, &out); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, transient(err, fmt.Sprintf("timed out after %s", timeout))
		}
		return nil, err
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return nil, fatal("prompt blocked: " + out.PromptFeedback.BlockReason)
	}
	text, finish := extractText(out)
	if text == "" {
		if finish == "SAFETY" || finish == "RECITATION" || finish == "PROHIBITED_CONTENT" {
			return nil, fatal("response blocked: " + finish)
		}
		return nil, fatal("empty candidates")
	}

	model := out.ModelVersion
	if model == "" {
		model = c.model
	}
	return &Response{
		Text:         text,
		PromptTokens: out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		Model:        model,
	}, nil
}

func (c *Client) invokeGemini(ctx context.Context, body []byte, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fatal(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return transient(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(resp.StatusCode, resp.Header, data)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return transient(err, "decode response")
	}
	return nil
}

func (c *Client) buildPayload(req Request) geminiGenerateContentRequest {
	payload := geminiGenerateContentRequest{
		GenerationConfig: &geminiGenerationConfig{CandidateCount: 1},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, turn := range req.History {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		role := "user"
		if turn.Role == "model" {
			role = "model"
		}
		payload.Contents = append(payload.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: turn.Text}}})
	}

	current := geminiContent{Role: "user"}
	for _, att := range req.Attachments {
		current.Parts = append(current.Parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: att.MimeType,
			Data:     base64.StdEncoding.EncodeToString(att.Data),
		}})
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		current.Parts = append(current.Parts, geminiPart{Text: prompt})
	}
	payload.Contents = append(payload.Contents, current)

	if req.Temperature > 0 {
		t := req.Temperature
		payload.GenerationConfig.Temperature = &t
	}
	if req.JSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}
	return payload
}

func extractText(resp geminiGenerateContentResponse) (string, string) {
	var finish string
	for _, cand := range resp.Candidates {
		finish = cand.FinishReason
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, finish
		}
	}
	return "", finish
}
