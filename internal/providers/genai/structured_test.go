package genai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outline struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
}

func TestParseJSONToleratesWrapping(t *testing.T) {
	tests := map[string]string{
		"plain":  `{"title":"Rivers","sections":["Intro","Flow"]}`,
		"fenced": "```json\n{\"title\":\"Rivers\",\"sections\":[\"Intro\",\"Flow\"]}\n```",
		"prose":  "Here is your outline:\n{\"title\":\"Rivers\",\"sections\":[\"Intro\",\"Flow\"]}\nGood luck!",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseJSON[outline](raw)
			require.NoError(t, err)
			assert.Equal(t, "Rivers", got.Title)
			assert.Equal(t, []string{"Intro", "Flow"}, got.Sections)
		})
	}
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	_, err := ParseJSON[outline]("")
	assert.Error(t, err)
	_, err = ParseJSON[outline]("no json here")
	assert.Error(t, err)
	_, err = ParseJSON[outline](`{"title": 3}`)
	assert.Error(t, err)
}
