// Package tutor turns a tool invocation into a metered Gemini call: it
// validates the payload, builds the prompt for the requested kind and runs
// the call inside a ledger charge.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quizora/internal/domain"
	"quizora/internal/ledger"
	"quizora/internal/providers/genai"
)

const (
	maxPromptRunes    = 20000
	maxAttachment     = 10 << 20
	chatContextTurns  = 10
	inputRefRunes     = 200
	chatInputRefRunes = 2000
)

// Generator is the AI adapter surface the tutor needs.
type Generator interface {
	Generate(ctx context.Context, req genai.Request) (*genai.Response, error)
}

// AttachmentStore persists uploaded media. storage.FileStore satisfies it.
type AttachmentStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	RemoveAll(ctx context.Context, key string) error
}

// Attachment is uploaded media. Data arrives base64 encoded in JSON.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Payload is the kind-specific input of an invocation.
type Payload struct {
	Prompt     string            `json:"prompt"`
	SessionID  string            `json:"session_id,omitempty"`
	Attachment *Attachment       `json:"attachment,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

// Invocation is one request to run a tool for an account.
type Invocation struct {
	AccountID string
	Kind      domain.OperationKind
	Payload   Payload
	Country   string
	Language  string
	RequestID string
}

// Result is what the caller gets back. When the AI call fails, Invoke returns
// the error together with a Result describing the refunded event and the
// restored balance.
type Result struct {
	EventID    string
	Kind       domain.OperationKind
	Output     string
	Structured any
	Cost       int64
	Balance    int64
	SessionID  string
	Synthetic  bool
}

// Tutor runs the tool menu.
type Tutor struct {
	ledger  *ledger.Service
	history *ledger.History
	gen     Generator
	files   AttachmentStore
	logger  zerolog.Logger
}

// New wires a tutor. files may be nil, in which case attachments are sent to
// the model but not kept.
func New(svc *ledger.Service, history *ledger.History, gen Generator, files AttachmentStore, logger zerolog.Logger) *Tutor {
	return &Tutor{ledger: svc, history: history, gen: gen, files: files, logger: logger}
}

// Invoke authorizes, stores any attachment, and charges the account around
// the model call.
func (t *Tutor) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	if strings.TrimSpace(inv.AccountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidRequest)
	}
	b, ok := builders[inv.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation kind %q", domain.ErrInvalidRequest, inv.Kind)
	}
	if inv.Kind == domain.KindChatTurn && strings.TrimSpace(inv.Payload.SessionID) == "" {
		inv.Payload.SessionID = uuid.NewString()
	}
	job, err := b(inv.Payload)
	if err != nil {
		return nil, err
	}

	auth, err := t.ledger.Authorize(ctx, inv.AccountID, inv.Kind)
	if err != nil {
		return nil, err
	}
	if !auth.Authorized {
		return nil, &domain.InsufficientError{Balance: auth.Balance, Requested: auth.Cost}
	}

	inputRef := inputReference(inv, job)
	storedKey := ""
	if att := inv.Payload.Attachment; att != nil && t.files != nil {
		key, err := t.files.Write(ctx, attachmentKey(inv.AccountID, att), att.Data)
		if err != nil {
			return nil, fmt.Errorf("store attachment: %w", err)
		}
		inputRef = key
		storedKey = key
	}
	// Until an event references the attachment, any early return orphans it.
	referenced := false
	defer func() {
		if storedKey != "" && !referenced {
			t.discardAttachment(ctx, inv, storedKey)
		}
	}()

	req := genai.Request{
		Kind:        inv.Kind,
		System:      systemInstruction(inv.Kind, inv.Language),
		Prompt:      job.prompt,
		JSON:        job.structure != nil,
		Temperature: job.temperature,
		Timeout:     t.ledger.Catalog().Timeout(inv.Kind),
		RequestID:   inv.RequestID,
	}
	if att := inv.Payload.Attachment; att != nil {
		req.Attachments = []genai.Attachment{{MimeType: normalizeMime(att.MimeType), Data: att.Data}}
	}
	if inv.Kind == domain.KindChatTurn {
		turns, err := t.history.SessionTurns(ctx, inv.AccountID, inv.Payload.SessionID, chatContextTurns)
		if err != nil {
			return nil, err
		}
		req.History = chatHistory(turns)
	}

	var (
		structured any
		synthetic  bool
	)
	rec, err := t.ledger.Charge(ctx, ledger.ChargeRequest{
		AccountID: inv.AccountID,
		Kind:      inv.Kind,
		SessionID: inv.Payload.SessionID,
		InputRef:  inputRef,
		Country:   inv.Country,
	}, func(ctx context.Context) (ledger.Outcome, error) {
		resp, err := t.gen.Generate(ctx, req)
		if err != nil {
			return ledger.Outcome{}, err
		}
		synthetic = resp.Synthetic
		text := resp.Text
		if job.structure != nil {
			structured, text = job.structure(resp.Text)
		}
		return ledger.Outcome{Output: text}, nil
	})
	referenced = rec != nil
	if rec == nil {
		if err != nil && !errors.Is(err, domain.ErrInsufficient) && !domain.IsProviderError(err) {
			t.logger.Error().Err(err).Str("account_id", inv.AccountID).Str("kind", string(inv.Kind)).
				Str("request_id", inv.RequestID).Msg("tutor: invocation failed")
		}
		return nil, err
	}

	res := &Result{
		EventID:   rec.Event.ID,
		Kind:      inv.Kind,
		Cost:      rec.Event.ActualCost,
		Balance:   rec.Balance,
		SessionID: rec.Event.SessionID,
		Synthetic: synthetic,
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("account_id", inv.AccountID).Str("event_id", rec.Event.ID).
			Str("kind", string(inv.Kind)).Str("request_id", inv.RequestID).Msg("tutor: generation refunded")
		return res, err
	}
	if rec.Event.Output != nil {
		res.Output = *rec.Event.Output
	}
	res.Structured = structured
	return res, nil
}

func (t *Tutor) discardAttachment(ctx context.Context, inv Invocation, key string) {
	if err := t.files.RemoveAll(context.WithoutCancel(ctx), key); err != nil {
		t.logger.Warn().Err(err).Str("account_id", inv.AccountID).Str("key", key).
			Str("request_id", inv.RequestID).Msg("tutor: orphaned attachment not removed")
	}
}

func inputReference(inv Invocation, job *job) string {
	limit := inputRefRunes
	if inv.Kind == domain.KindChatTurn {
		limit = chatInputRefRunes
	}
	return truncateRunes(strings.TrimSpace(job.summary), limit)
}

// AttachmentDir is the storage prefix holding every attachment of an
// account.
func AttachmentDir(accountID string) string {
	return path.Join("attachments", sanitizeSegment(accountID))
}

func attachmentKey(accountID string, att *Attachment) string {
	return path.Join(AttachmentDir(accountID), uuid.NewString()+extensionFor(att.MimeType))
}

func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "_"
	}
	return s
}

func chatHistory(turns []domain.UsageEvent) []genai.Turn {
	out := make([]genai.Turn, 0, len(turns)*2)
	for _, ev := range turns {
		if ev.InputRef != "" {
			out = append(out, genai.Turn{Role: "user", Text: ev.InputRef})
		}
		if ev.Output != nil && *ev.Output != "" {
			out = append(out, genai.Turn{Role: "model", Text: *ev.Output})
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
