package transform

import (
	"strings"
	"time"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// ModelCatalogEntry is the protocol-neutral model description used when
// translating models-list responses and serving local catalogs.
type ModelCatalogEntry struct {
	ID          string
	DisplayName string
	Created     int64
	InputLimit  int64
	OutputLimit int64
}

func (e ModelCatalogEntry) displayName() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.ID
}

func CatalogToClaudeModels(entries []ModelCatalogEntry) *claude.ModelsList {
	out := &claude.ModelsList{Data: []claude.ModelInfo{}}
	for _, e := range entries {
		created := e.Created
		if created == 0 {
			created = time.Now().Unix()
		}
		out.Data = append(out.Data, claude.ModelInfo{
			ID:          e.ID,
			Type:        "model",
			DisplayName: e.displayName(),
			CreatedAt:   time.Unix(created, 0).UTC().Format(time.RFC3339),
		})
	}
	if len(out.Data) > 0 {
		out.FirstID = strPtr(out.Data[0].ID)
		out.LastID = strPtr(out.Data[len(out.Data)-1].ID)
	}
	return out
}

func CatalogToOpenAIModels(entries []ModelCatalogEntry) *openai.ModelsList {
	out := &openai.ModelsList{Object: "list", Data: []openai.ModelInfo{}}
	for _, e := range entries {
		created := e.Created
		if created == 0 {
			created = time.Now().Unix()
		}
		out.Data = append(out.Data, openai.ModelInfo{
			ID:      e.ID,
			Object:  "model",
			Created: created,
			OwnedBy: "system",
		})
	}
	return out
}

func CatalogToGeminiModels(entries []ModelCatalogEntry) *gemini.ModelsList {
	out := &gemini.ModelsList{Models: []gemini.ModelInfo{}}
	for _, e := range entries {
		out.Models = append(out.Models, gemini.ModelInfo{
			Name:                       "models/" + e.ID,
			DisplayName:                e.displayName(),
			InputTokenLimit:            e.InputLimit,
			OutputTokenLimit:           e.OutputLimit,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent", "countTokens"},
		})
	}
	return out
}

func CatalogFromClaudeModels(list *claude.ModelsList) []ModelCatalogEntry {
	var out []ModelCatalogEntry
	for _, m := range list.Data {
		entry := ModelCatalogEntry{ID: m.ID, DisplayName: m.DisplayName}
		if ts, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			entry.Created = ts.Unix()
		}
		out = append(out, entry)
	}
	return out
}

func CatalogFromOpenAIModels(list *openai.ModelsList) []ModelCatalogEntry {
	var out []ModelCatalogEntry
	for _, m := range list.Data {
		out = append(out, ModelCatalogEntry{ID: m.ID, Created: m.Created})
	}
	return out
}

func CatalogFromGeminiModels(list *gemini.ModelsList) []ModelCatalogEntry {
	var out []ModelCatalogEntry
	for _, m := range list.Models {
		out = append(out, ModelCatalogEntry{
			ID:          strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
			InputLimit:  m.InputTokenLimit,
			OutputLimit: m.OutputTokenLimit,
		})
	}
	return out
}
