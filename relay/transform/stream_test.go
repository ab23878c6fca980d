package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/relay/dispatch"
)

func collect(state StreamState, events ...string) string {
	var out strings.Builder
	for _, event := range events {
		for _, frame := range state.Next([]byte(event)) {
			out.Write(frame)
		}
	}
	for _, frame := range state.Finish() {
		out.Write(frame)
	}
	return out.String()
}

var claudeStreamFixture = []string{
	`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-5","usage":{"input_tokens":10}}}`,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
	`{"type":"message_stop"}`,
}

func TestClaudeToChatStream(t *testing.T) {
	out := collect(newClaudeToChatStream("claude-sonnet-4-5"), claudeStreamFixture...)

	assert.Contains(t, out, `"role":"assistant"`)
	assert.Contains(t, out, `"content":"Hel"`)
	assert.Contains(t, out, `"content":"lo"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.Contains(t, out, `"prompt_tokens":10`)
	assert.Contains(t, out, `"completion_tokens":2`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestClaudeToGeminiStream(t *testing.T) {
	out := collect(newClaudeToGeminiStream("gemini-2.5-pro"), claudeStreamFixture...)

	assert.Contains(t, out, `"text":"Hel"`)
	assert.Contains(t, out, `"text":"lo"`)
	assert.Contains(t, out, `"finishReason":"STOP"`)
	assert.Contains(t, out, `"promptTokenCount":10`)
	assert.Contains(t, out, `"candidatesTokenCount":2`)
	assert.NotContains(t, out, "[DONE]")
}

func TestGeminiToClaudeStreamSynthesizesEnvelope(t *testing.T) {
	state := newGeminiToClaudeStream("gemini-2.5-pro")
	out := collect(state,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2}}`,
	)

	// envelope order: message_start, block start, deltas, block stop,
	// message_delta, message_stop
	first := strings.Index(out, "event: message_start")
	blockStart := strings.Index(out, "event: content_block_start")
	delta := strings.Index(out, "event: content_block_delta")
	blockStop := strings.Index(out, "event: content_block_stop")
	msgDelta := strings.Index(out, "event: message_delta")
	msgStop := strings.Index(out, "event: message_stop")
	require.True(t, first >= 0 && blockStart > first && delta > blockStart &&
		blockStop > delta && msgDelta > blockStop && msgStop > msgDelta, out)

	assert.Contains(t, out, `"text":"Hel"`)
	assert.Contains(t, out, `"stop_reason":"end_turn"`)
	assert.Contains(t, out, `"input_tokens":5`)
	assert.Contains(t, out, `"output_tokens":2`)
}

func TestGeminiToClaudeStreamToolCall(t *testing.T) {
	state := newGeminiToClaudeStream("gemini-2.5-pro")
	out := collect(state,
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Oslo"}}}]},"finishReason":"STOP"}]}`,
	)
	assert.Contains(t, out, `"type":"tool_use"`)
	assert.Contains(t, out, `"name":"get_weather"`)
	assert.Contains(t, out, `input_json_delta`)
	assert.Contains(t, out, `\"city\":\"Oslo\"`)
}

func TestResponsesToChatStream(t *testing.T) {
	state := newResponsesToChatStream("gpt-5.2")
	out := collect(state,
		`{"type":"response.created","response":{"id":"r1","object":"response","status":"in_progress","output":[]}}`,
		`{"type":"response.output_text.delta","item_id":"msg_1","delta":"Hi"}`,
		`{"type":"response.completed","response":{"id":"r1","object":"response","status":"completed","output":[],"usage":{"input_tokens":3,"output_tokens":1}}}`,
	)
	assert.Contains(t, out, `"content":"Hi"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.Contains(t, out, `"prompt_tokens":3`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestChatToClaudeStreamToolCalls(t *testing.T) {
	state := newChatToClaudeStream("gpt-5.2")
	out := collect(state,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	assert.Contains(t, out, `"type":"tool_use"`)
	assert.Contains(t, out, `"name":"get_weather"`)
	assert.Contains(t, out, `"stop_reason":"tool_use"`)
}

func TestIdentityStateReframes(t *testing.T) {
	state := NewStreamState(dispatch.ProtocolOpenAIChat, dispatch.ProtocolOpenAIChat, "m")
	frames := state.Next([]byte(`{"x":1}`))
	require.Len(t, frames, 1)
	assert.Equal(t, "data: {\"x\":1}\n\n", string(frames[0]))
}

func TestIdentityStateClaudeFraming(t *testing.T) {
	state := NewStreamState(dispatch.ProtocolClaude, dispatch.ProtocolClaude, "m")
	frames := state.Next([]byte(`{"type":"ping"}`))
	require.Len(t, frames, 1)
	assert.Equal(t, "event: ping\ndata: {\"type\":\"ping\"}\n\n", string(frames[0]))
}

// Per-stream state must not leak: two streams from one factory path are
// independent.
func TestStreamStateIsolation(t *testing.T) {
	a := NewStreamState(dispatch.ProtocolGemini, dispatch.ProtocolClaude, "gemini-2.5-pro")
	b := NewStreamState(dispatch.ProtocolGemini, dispatch.ProtocolClaude, "gemini-2.5-pro")
	outA := collect(a, `{"candidates":[{"content":{"role":"model","parts":[{"text":"A"}]},"finishReason":"STOP"}]}`)
	outB := collect(b, `{"candidates":[{"content":{"role":"model","parts":[{"text":"B"}]},"finishReason":"STOP"}]}`)
	assert.Contains(t, outA, `"text":"A"`)
	assert.NotContains(t, outA, `"text":"B"`)
	assert.Contains(t, outB, `"text":"B"`)
	assert.Equal(t, strings.Count(outA, "message_start"), strings.Count(outB, "message_start"))
}
