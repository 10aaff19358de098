package genai

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

func (c *Client) synthetic(req Request) *Response {
	seed := deterministicSeed(req.Kind, req.System, req.Prompt, len(req.History), len(req.Attachments))
	excerpt := excerpt(req.Prompt, 160)

	var text string
	if req.JSON {
		raw, _ := json.Marshal(map[string]any{
			"synthetic": true,
			"seed":      seed,
			"summary":   excerpt,
		})
		text = string(raw)
	} else {
		text = fmt.Sprintf("[synthetic %s %s] %s", c.model, seed, excerpt)
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("kind", string(req.Kind)).
		Str("model", c.model).
		Msg("genai: generated synthetic response")

	return &Response{
		Text:         text,
		OutputTokens: int64(utf8.RuneCountInString(text) / 4),
		Model:        c.model,
		Attempts:     1,
		Synthetic:    true,
	}
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
