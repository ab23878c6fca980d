package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/pool"
)

func TestRegistryBuildsByName(t *testing.T) {
	entries := map[int][]pool.Entry{
		1: apiKeyEntries(1),
		2: apiKeyEntries(2),
	}
	registry := NewRegistry(nil, func(providerId int) ([]pool.Entry, []pool.Mark, error) {
		return entries[providerId], nil, nil
	})

	claudeRow := &model.Provider{Id: 1, Name: NameClaude, Enabled: true}
	p, perr := registry.Get(claudeRow)
	require.Nil(t, perr)
	assert.Equal(t, NameClaude, p.Name())
	assert.Equal(t, dispatch.KindNative, p.Table().Lookup(dispatch.ClaudeMessages).Kind)
	assert.Len(t, p.Pool().Snapshot().Entries, 1)

	// unknown names build the custom executor
	customRow := &model.Provider{Id: 2, Name: "my-backend", Enabled: true}
	p, perr = registry.Get(customRow)
	require.Nil(t, perr)
	assert.Equal(t, "my-backend", p.Name())
	assert.Equal(t, dispatch.KindNative, p.Table().Lookup(dispatch.OpenAIChat).Kind)
	assert.Len(t, p.Pool().Snapshot().Entries, 2)

	// same row returns the same executor instance
	again, perr := registry.Get(customRow)
	require.Nil(t, perr)
	assert.Same(t, p.Pool(), again.Pool())
}

func TestProviderDispatchTables(t *testing.T) {
	// claudecode routes every foreign operation through Claude
	entry := claudeCodeTable.Lookup(dispatch.OpenAIResponsesStream)
	assert.Equal(t, dispatch.KindTransform, entry.Kind)
	assert.Equal(t, dispatch.ProtocolClaude, entry.Target)
	assert.Equal(t, dispatch.UsageClaudeMessage, entry.Usage)

	// codex is Responses-native, Chat transforms within the vendor family
	entry = codexTable.Lookup(dispatch.OpenAIChatStream)
	assert.Equal(t, dispatch.KindTransform, entry.Kind)
	assert.Equal(t, dispatch.ProtocolOpenAIResponses, entry.Target)
	assert.Equal(t, dispatch.KindLocal, codexTable.Lookup(dispatch.OpenAIModelsList).Kind)

	// antigravity counts tokens locally
	assert.Equal(t, dispatch.KindLocal, antigravityTable.Lookup(dispatch.ClaudeCountTokens).Kind)
	assert.Equal(t, dispatch.KindLocal, antigravityTable.Lookup(dispatch.GeminiModelsList).Kind)

	// plain claude has no oauth surface
	assert.Equal(t, dispatch.KindUnsupported, claudeTable.Lookup(dispatch.OAuthStart).Kind)
	assert.Equal(t, dispatch.KindNative, claudeCodeTable.Lookup(dispatch.OAuthStart).Kind)
}
