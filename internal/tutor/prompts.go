package tutor

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"quizora/internal/domain"
)

// job is a validated invocation ready to send.
type job struct {
	prompt      string
	summary     string
	temperature float64
	// structure normalizes JSON output; it returns the parsed value and the
	// text stored on the usage event.
	structure func(raw string) (any, string)
}

type builder func(p Payload) (*job, error)

var builders = map[domain.OperationKind]builder{
	domain.KindTextQuestion:  buildTextQuestion,
	domain.KindImageQuestion: buildImageQuestion,
	domain.KindAudioSummary:  buildAudioSummary,
	domain.KindMindMap:       buildMindMap,
	domain.KindChatTurn:      buildChatTurn,
	domain.KindResearchPaper: buildResearchPaper,
	domain.KindTextEditing:   buildTextEditing,
	domain.KindBookChapter:   buildBookChapter,
}

var (
	imageTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/heic": ".heic",
	}
	audioTypes = map[string]string{
		"audio/mpeg": ".mp3",
		"audio/mp3":  ".mp3",
		"audio/wav":  ".wav",
		"audio/ogg":  ".ogg",
		"audio/webm": ".webm",
		"audio/mp4":  ".m4a",
		"audio/m4a":  ".m4a",
	}
	editingModes = map[string]string{
		"proofread": "Fix spelling, grammar and punctuation. Keep the wording otherwise unchanged.",
		"rewrite":   "Rewrite the text so it reads clearly and naturally while keeping its meaning.",
		"simplify":  "Rewrite the text in plain language a younger student can follow.",
		"formalize": "Rewrite the text in a formal academic register.",
	}
	defaultPaperSections = []string{"Introduction", "Literature Review", "Methodology", "Discussion", "Conclusion"}
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidRequest}, args...)...)
}

func requirePrompt(p Payload, field string) (string, error) {
	text := strings.TrimSpace(p.Prompt)
	if text == "" {
		return "", invalid("%s is required", field)
	}
	if utf8.RuneCountInString(text) > maxPromptRunes {
		return "", invalid("%s exceeds %d characters", field, maxPromptRunes)
	}
	return text, nil
}

func optionalPrompt(p Payload) (string, error) {
	text := strings.TrimSpace(p.Prompt)
	if utf8.RuneCountInString(text) > maxPromptRunes {
		return "", invalid("prompt exceeds %d characters", maxPromptRunes)
	}
	return text, nil
}

func requireAttachment(p Payload, allowed map[string]string, what string) error {
	att := p.Attachment
	if att == nil || len(att.Data) == 0 {
		return invalid("%s attachment is required", what)
	}
	if len(att.Data) > maxAttachment {
		return invalid("attachment exceeds %d bytes", maxAttachment)
	}
	if _, ok := allowed[normalizeMime(att.MimeType)]; !ok {
		return invalid("unsupported %s type %q", what, att.MimeType)
	}
	return nil
}

func normalizeMime(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	if v == "image/jpg" {
		return "image/jpeg"
	}
	return v
}

func extensionFor(mime string) string {
	mime = normalizeMime(mime)
	if ext, ok := imageTypes[mime]; ok {
		return ext
	}
	if ext, ok := audioTypes[mime]; ok {
		return ext
	}
	return ".bin"
}

func buildTextQuestion(p Payload) (*job, error) {
	q, err := requirePrompt(p, "question")
	if err != nil {
		return nil, err
	}
	sb := &strings.Builder{}
	sb.WriteString("Answer the student's question. Explain the reasoning step by step, then give the final answer on its own line.\n\nQuestion:\n")
	sb.WriteString(q)
	return &job{prompt: sb.String(), summary: q, temperature: 0.4}, nil
}

func buildImageQuestion(p Payload) (*job, error) {
	if err := requireAttachment(p, imageTypes, "image"); err != nil {
		return nil, err
	}
	q, err := optionalPrompt(p)
	if err != nil {
		return nil, err
	}
	prompt := "Read the attached image. If it contains an exercise, solve it step by step; otherwise explain what it shows."
	if q != "" {
		prompt += "\n\nThe student asks:\n" + q
	}
	return &job{prompt: prompt, summary: q, temperature: 0.4}, nil
}

func buildAudioSummary(p Payload) (*job, error) {
	if err := requireAttachment(p, audioTypes, "audio"); err != nil {
		return nil, err
	}
	focus, err := optionalPrompt(p)
	if err != nil {
		return nil, err
	}
	prompt := "Summarize the attached lecture recording as study notes: a short overview, the key points as a list, and any terms worth memorizing."
	if focus != "" {
		prompt += "\n\nFocus on: " + focus
	}
	return &job{prompt: prompt, summary: focus, temperature: 0.3}, nil
}

func buildMindMap(p Payload) (*job, error) {
	topic, err := requirePrompt(p, "topic")
	if err != nil {
		return nil, err
	}
	sb := &strings.Builder{}
	sb.WriteString("Build a study mind map. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"central":string,"branches":[{"title":string,"children":string[]}]}`)
	fmt.Fprintf(sb, ". Use 4 to 7 branches with 2 to 5 short children each. Topic: %q.", topic)
	return &job{
		prompt:      sb.String(),
		summary:     topic,
		temperature: 0.5,
		structure:   func(raw string) (any, string) { return structureMindMap(raw, topic) },
	}, nil
}

func buildChatTurn(p Payload) (*job, error) {
	msg, err := requirePrompt(p, "message")
	if err != nil {
		return nil, err
	}
	return &job{prompt: msg, summary: msg, temperature: 0.7}, nil
}

func buildResearchPaper(p Payload) (*job, error) {
	topic, err := requirePrompt(p, "topic")
	if err != nil {
		return nil, err
	}
	sections := parseSections(p.Options["sections"])
	sb := &strings.Builder{}
	sb.WriteString("Write a student research paper. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"title":string,"abstract":string,"sections":[{"heading":string,"body":string}]}`)
	fmt.Fprintf(sb, ". Use these sections in order: %s. Topic: %q.", strings.Join(sections, ", "), topic)
	return &job{
		prompt:      sb.String(),
		summary:     topic,
		temperature: 0.6,
		structure:   func(raw string) (any, string) { return structurePaper(raw, topic, sections) },
	}, nil
}

func parseSections(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultPaperSections
	}
	return out
}

func buildTextEditing(p Payload) (*job, error) {
	text, err := requirePrompt(p, "text")
	if err != nil {
		return nil, err
	}
	mode := strings.ToLower(strings.TrimSpace(p.Options["mode"]))
	if mode == "" {
		mode = "proofread"
	}
	instruction, ok := editingModes[mode]
	if !ok {
		return nil, invalid("unknown editing mode %q", mode)
	}
	prompt := instruction + " Return only the edited text.\n\n" + text
	return &job{prompt: prompt, summary: mode + ": " + text, temperature: 0.2}, nil
}

func buildBookChapter(p Payload) (*job, error) {
	book := strings.TrimSpace(p.Options["book_title"])
	if book == "" {
		book = strings.TrimSpace(p.Prompt)
	}
	if book == "" {
		return nil, invalid("book title is required")
	}
	number := 1
	if raw := strings.TrimSpace(p.Options["chapter_number"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, invalid("chapter number must be a positive integer")
		}
		number = n
	}
	chapterTitle := strings.TrimSpace(p.Options["chapter_title"])
	notes, err := optionalPrompt(Payload{Prompt: p.Options["notes"]})
	if err != nil {
		return nil, err
	}

	sb := &strings.Builder{}
	sb.WriteString("Write one chapter of a study book. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"title":string,"summary":string,"content":string}`)
	fmt.Fprintf(sb, ". Book: %q. Chapter %d", book, number)
	if chapterTitle != "" {
		fmt.Fprintf(sb, ": %q", chapterTitle)
	}
	sb.WriteString(".")
	if notes != "" {
		fmt.Fprintf(sb, " Author notes: %s", notes)
	}
	summary := fmt.Sprintf("%s, chapter %d", book, number)
	return &job{
		prompt:      sb.String(),
		summary:     summary,
		temperature: 0.7,
		structure: func(raw string) (any, string) {
			return structureChapter(raw, book, number, chapterTitle)
		},
	}, nil
}

var systemPrompts = map[domain.OperationKind]string{
	domain.KindTextQuestion:  "You are Quizora, a patient tutor for school and university students.",
	domain.KindImageQuestion: "You are Quizora, a patient tutor who reads photos of homework and textbooks.",
	domain.KindAudioSummary:  "You are Quizora, a note taker who turns lectures into compact study notes.",
	domain.KindMindMap:       "You are Quizora, a study coach who organizes topics into mind maps.",
	domain.KindChatTurn:      "You are Quizora, a friendly tutor holding a study conversation. Keep answers focused.",
	domain.KindResearchPaper: "You are Quizora, an academic writing assistant. Stay factual and cite no invented sources.",
	domain.KindTextEditing:   "You are Quizora, a careful editor.",
	domain.KindBookChapter:   "You are Quizora, an author of clear educational books.",
}

// systemInstruction picks the persona for kind and pins the answer language
// when the caller negotiated one.
func systemInstruction(kind domain.OperationKind, lang string) string {
	system := systemPrompts[kind]
	if name := languageName(lang); name != "" {
		system += " Always answer in " + name + "."
	}
	return system
}

func languageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil || tag == language.Und {
		return ""
	}
	return display.English.Tags().Name(tag)
}
