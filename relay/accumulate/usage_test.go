package accumulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/relay/dispatch"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

func TestClaudeUsageMerge(t *testing.T) {
	a := NewUsageAccumulator(dispatch.UsageClaudeMessage)

	got := a.Push([]byte(`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-5","usage":{"input_tokens":17,"cache_read_input_tokens":4}}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 17, relaymodel.Or(got.InputTokens))
	assert.EqualValues(t, 4, relaymodel.Or(got.CacheReadInputTokens))
	assert.Nil(t, got.OutputTokens)

	// text deltas carry no usage
	assert.Nil(t, a.Push([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)))

	got = a.Push([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}`))
	require.NotNil(t, got)

	final := a.Finalize()
	require.NotNil(t, final)
	// monotonicity: earlier fields survive the sparse message_delta
	assert.EqualValues(t, 17, relaymodel.Or(final.InputTokens))
	assert.EqualValues(t, 42, relaymodel.Or(final.OutputTokens))
	assert.EqualValues(t, 4, relaymodel.Or(final.CacheReadInputTokens))
}

func TestOpenAIChatUsageOnlyFinalChunk(t *testing.T) {
	a := NewUsageAccumulator(dispatch.UsageOpenAIChat)
	assert.Nil(t, a.Push([]byte(`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"x"},"finish_reason":null}]}`)))
	got := a.Push([]byte(`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":9,"total_tokens":14,"prompt_tokens_details":{"cached_tokens":2}}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 5, relaymodel.Or(got.InputTokens))
	assert.EqualValues(t, 9, relaymodel.Or(got.OutputTokens))
	assert.EqualValues(t, 2, relaymodel.Or(got.CacheReadInputTokens))
}

func TestOpenAIResponsesUsageLifecycleEvents(t *testing.T) {
	a := NewUsageAccumulator(dispatch.UsageOpenAIResponses)
	require.NotNil(t, a.Push([]byte(`{"type":"response.created","response":{"id":"r1","object":"response","status":"in_progress","output":[],"usage":{"input_tokens":11}}}`)))
	assert.Nil(t, a.Push([]byte(`{"type":"response.output_text.delta","delta":"hello"}`)))
	require.NotNil(t, a.Push([]byte(`{"type":"response.completed","response":{"id":"r1","object":"response","status":"completed","output":[],"usage":{"input_tokens":11,"output_tokens":3}}}`)))

	final := a.Finalize()
	require.NotNil(t, final)
	assert.EqualValues(t, 11, relaymodel.Or(final.InputTokens))
	assert.EqualValues(t, 3, relaymodel.Or(final.OutputTokens))
}

func TestGeminiUsageAnyChunk(t *testing.T) {
	a := NewUsageAccumulator(dispatch.UsageGeminiGenerate)
	got := a.Push([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"a"}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":1}}`))
	require.NotNil(t, got)
	assert.EqualValues(t, 7, relaymodel.Or(got.InputTokens))
}

func TestMalformedFrameIsDropped(t *testing.T) {
	a := NewUsageAccumulator(dispatch.UsageClaudeMessage)
	assert.Nil(t, a.Push([]byte(`{"type":"message_start","message":`)))
	assert.Nil(t, a.Finalize())
}

func TestFinalizeNilWithoutAnyUsage(t *testing.T) {
	a := NewUsageAccumulator(dispatch.UsageOpenAIChat)
	a.Push([]byte(`{"choices":[{"index":0,"delta":{"content":"x"},"finish_reason":null}]}`))
	assert.Nil(t, a.Finalize())
}

func TestOutputAccumulatorClaude(t *testing.T) {
	o := NewOutputAccumulator(dispatch.UsageClaudeMessage)
	o.Push([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello "}}`))
	o.Push([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":1}"}}`))
	o.Push([]byte(`{"type":"message_stop"}`))
	assert.Equal(t, `hello {"q":1}`, o.String())
}

func TestOutputAccumulatorGeminiFallsBackToJSON(t *testing.T) {
	o := NewOutputAccumulator(dispatch.UsageGeminiGenerate)
	o.Push([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"},{"functionCall":{"name":"f","args":{"x":1}}}]}}]}`))
	got := o.String()
	assert.Contains(t, got, "hi")
	assert.Contains(t, got, `"name":"f"`)
}
