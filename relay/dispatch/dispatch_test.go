package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationProtocolFamilies(t *testing.T) {
	assert.Equal(t, ProtocolClaude, ClaudeMessages.Protocol())
	assert.Equal(t, ProtocolClaude, ClaudeModelsGet.Protocol())
	assert.Equal(t, ProtocolGemini, GeminiGenerateStream.Protocol())
	assert.Equal(t, ProtocolOpenAIChat, OpenAIChatStream.Protocol())
	assert.Equal(t, ProtocolOpenAIResponses, OpenAIResponses.Protocol())
	assert.Equal(t, ProtocolOpenAIResponses, OpenAIModelsList.Protocol())
}

func TestIsStream(t *testing.T) {
	assert.True(t, ClaudeMessagesStream.IsStream())
	assert.True(t, GeminiGenerateStream.IsStream())
	assert.False(t, ClaudeMessages.IsStream())
	assert.False(t, Usage.IsStream())
}

func TestGenerateEquivalentPreservesStreaming(t *testing.T) {
	assert.Equal(t, ClaudeMessagesStream, GeminiGenerateStream.GenerateEquivalent(ProtocolClaude))
	assert.Equal(t, ClaudeMessages, OpenAIChat.GenerateEquivalent(ProtocolClaude))
	assert.Equal(t, GeminiGenerateStream, OpenAIResponsesStream.GenerateEquivalent(ProtocolGemini))
	assert.Equal(t, OpenAIResponses, ClaudeMessages.GenerateEquivalent(ProtocolOpenAIResponses))
	assert.Equal(t, ClaudeCountTokens, OpenAIInputTokens.GenerateEquivalent(ProtocolClaude))
	assert.Equal(t, GeminiModelsList, ClaudeModelsList.GenerateEquivalent(ProtocolGemini))
}

func TestUniformTransformShape(t *testing.T) {
	table := UniformTransform(ProtocolClaude, UsageClaudeMessage)

	// native family stays native with its usage kind on generate ops
	assert.Equal(t, KindNative, table.Lookup(ClaudeMessagesStream).Kind)
	assert.Equal(t, UsageClaudeMessage, table.Lookup(ClaudeMessagesStream).Usage)
	assert.Equal(t, UsageNone, table.Lookup(ClaudeCountTokens).Usage)

	// foreign families transform toward the native protocol
	entry := table.Lookup(GeminiGenerateStream)
	assert.Equal(t, KindTransform, entry.Kind)
	assert.Equal(t, ProtocolClaude, entry.Target)
	assert.Equal(t, UsageClaudeMessage, entry.Usage)

	entry = table.Lookup(OpenAIModelsList)
	assert.Equal(t, KindTransform, entry.Kind)
	assert.Equal(t, UsageNone, entry.Usage)

	// the oauth surface is always native
	assert.Equal(t, KindNative, table.Lookup(OAuthStart).Kind)
	assert.Equal(t, KindNative, table.Lookup(Usage).Kind)
}

func TestLookupOutOfRange(t *testing.T) {
	var table Table
	assert.Equal(t, KindUnsupported, table.Lookup(Operation(99)).Kind)
	assert.Equal(t, KindUnsupported, table.Lookup(Operation(-1)).Kind)
}
