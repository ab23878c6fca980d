package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dfft546/gproxy/model"
)

func rows(names ...string) []*model.Provider {
	out := make([]*model.Provider, len(names))
	for i, name := range names {
		out[i] = &model.Provider{Id: i + 1, Name: name, Enabled: true}
	}
	return out
}

func TestByModelFamily(t *testing.T) {
	enabled := rows("codex", "claudecode", "geminicli")

	assert.Equal(t, "claudecode", byModelFamily(enabled, "claude-sonnet-4-5").Name)
	assert.Equal(t, "geminicli", byModelFamily(enabled, "gemini-2.5-pro").Name)
	assert.Equal(t, "codex", byModelFamily(enabled, "gpt-5.2").Name)
	// behavior prefixes do not change the family
	assert.Equal(t, "geminicli", byModelFamily(enabled, "假流式/gemini-2.5-pro").Name)
	// unknown family falls back to the first enabled provider
	assert.Equal(t, "codex", byModelFamily(enabled, "mystery-model").Name)
}

func TestByModelFamilyPrefersDirectProvider(t *testing.T) {
	enabled := rows("claude", "claudecode")
	assert.Equal(t, "claude", byModelFamily(enabled, "claude-opus-4-1").Name)
}
