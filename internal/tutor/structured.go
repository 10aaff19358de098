package tutor

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"quizora/internal/providers/genai"
)

type MindMap struct {
	Central  string          `json:"central"`
	Branches []MindMapBranch `json:"branches"`
}

type MindMapBranch struct {
	Title    string   `json:"title"`
	Children []string `json:"children"`
}

type ResearchPaper struct {
	Title    string         `json:"title"`
	Abstract string         `json:"abstract"`
	Sections []PaperSection `json:"sections"`
}

type PaperSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type BookChapter struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// Each structureX parses model output and falls back to a value synthesized
// from the request when the output is not usable JSON. The returned text is
// the canonical JSON stored on the usage event.

func structureMindMap(raw, topic string) (any, string) {
	m, err := genai.ParseJSON[MindMap](raw)
	if err != nil || len(m.Branches) == 0 {
		m = MindMap{Branches: []MindMapBranch{{Title: "Overview", Children: nonEmptyLines(raw, 5)}}}
	}
	if strings.TrimSpace(m.Central) == "" {
		m.Central = topic
	}
	for i := range m.Branches {
		if m.Branches[i].Children == nil {
			m.Branches[i].Children = []string{}
		}
	}
	return m, canonical(m, raw)
}

func structurePaper(raw, topic string, sections []string) (any, string) {
	p, err := genai.ParseJSON[ResearchPaper](raw)
	if err != nil || len(p.Sections) == 0 {
		body := strings.TrimSpace(raw)
		p = ResearchPaper{Sections: make([]PaperSection, 0, len(sections))}
		for i, heading := range sections {
			sec := PaperSection{Heading: heading}
			if i == 0 {
				sec.Body = body
			}
			p.Sections = append(p.Sections, sec)
		}
	}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = titleCase(topic)
	}
	return p, canonical(p, raw)
}

func structureChapter(raw, book string, number int, chapterTitle string) (any, string) {
	c, err := genai.ParseJSON[BookChapter](raw)
	if err != nil || strings.TrimSpace(c.Content) == "" {
		c = BookChapter{Content: strings.TrimSpace(raw)}
	}
	if strings.TrimSpace(c.Title) == "" {
		if chapterTitle != "" {
			c.Title = fmt.Sprintf("Chapter %d: %s", number, chapterTitle)
		} else {
			c.Title = fmt.Sprintf("%s: Chapter %d", titleCase(book), number)
		}
	}
	return c, canonical(c, raw)
}

func canonical(v any, raw string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(data)
}

func nonEmptyLines(s string, limit int) []string {
	out := []string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*#0123456789. "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}
