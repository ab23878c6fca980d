package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

func chatFixture() *openai.ChatRequest {
	temp := 1.4
	maxTokens := int64(4096)
	parallel := false
	return &openai.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []openai.ChatMessage{
			{Role: "system", Content: json.RawMessage(`"be terse"`)},
			{Role: "developer", Content: json.RawMessage(`"answer in French"`)},
			{Role: "user", Content: json.RawMessage(`"bonjour"`)},
			{Role: "assistant", Content: json.RawMessage(`"salut"`)},
			{Role: "user", Content: json.RawMessage(`"quel temps fait-il?"`)},
		},
		Tools: []openai.ChatTool{{
			Type: "function",
			Function: &openai.FunctionDefinition{
				Name:       "get_weather",
				Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
			},
		}},
		ToolChoice:          json.RawMessage(`"auto"`),
		ParallelToolCalls:   &parallel,
		Temperature:         &temp,
		MaxCompletionTokens: &maxTokens,
		Stop:                json.RawMessage(`[" END ", "", "STOP"]`),
		ReasoningEffort:     "low",
	}
}

func TestChatToClaudeRequestMapping(t *testing.T) {
	out, perr := ChatToClaudeRequest(chatFixture(), true)
	require.Nil(t, perr)

	// system fan-in, newline joined, in order
	var system string
	require.NoError(t, json.Unmarshal(out.System, &system))
	assert.Equal(t, "be terse\nanswer in French", system)

	// role/content order preserved, system turns removed
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "assistant", out.Messages[1].Role)
	assert.Equal(t, "user", out.Messages[2].Role)

	// temperature clamped into Claude's [0,1]
	require.NotNil(t, out.Temperature)
	assert.Equal(t, 1.0, *out.Temperature)

	// max_completion_tokens wins
	assert.EqualValues(t, 4096, out.MaxTokens)

	// stop sequences trimmed, empties dropped
	assert.Equal(t, []string{"END", "STOP"}, out.StopSequences)

	// reasoning effort -> enabled thinking with nominal budget
	require.NotNil(t, out.Thinking)
	assert.Equal(t, "enabled", out.Thinking.Type)
	assert.EqualValues(t, 1024, out.Thinking.BudgetTokens)

	// parallel_tool_calls=false -> disable_parallel_tool_use=true
	require.NotNil(t, out.ToolChoice)
	assert.Equal(t, "auto", out.ToolChoice.Type)
	require.NotNil(t, out.ToolChoice.DisableParallelToolUse)
	assert.True(t, *out.ToolChoice.DisableParallelToolUse)

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "get_weather", out.Tools[0].Name)

	require.NotNil(t, out.Stream)
	assert.True(t, *out.Stream)
}

func TestChatToClaudeDefaultMaxTokens(t *testing.T) {
	req := chatFixture()
	req.MaxCompletionTokens = nil
	req.MaxTokens = nil
	out, perr := ChatToClaudeRequest(req, false)
	require.Nil(t, perr)
	assert.EqualValues(t, claudeDefaultMaxTokens, out.MaxTokens)
}

// Round trip property: chat -> claude -> chat preserves role/text order,
// tool names, stops, effort, and max tokens.
func TestChatClaudeRoundTrip(t *testing.T) {
	src := chatFixture()
	asClaude, perr := ChatToClaudeRequest(src, false)
	require.Nil(t, perr)
	back, perr := ClaudeToChatRequest(asClaude, false)
	require.Nil(t, perr)

	type turn struct{ role, text string }
	extract := func(req *openai.ChatRequest) []turn {
		var out []turn
		for _, msg := range req.Messages {
			var text string
			_ = json.Unmarshal(msg.Content, &text)
			role := msg.Role
			if role == "developer" {
				role = "system"
			}
			out = append(out, turn{role, text})
		}
		return out
	}

	srcTurns := extract(src)
	backTurns := extract(back)
	// the two system turns fan into one
	require.Len(t, backTurns, len(srcTurns)-1)
	assert.Equal(t, turn{"system", "be terse\nanswer in French"}, backTurns[0])
	assert.Equal(t, srcTurns[2:], backTurns[1:])

	require.Len(t, back.Tools, 1)
	assert.Equal(t, "get_weather", back.Tools[0].Function.Name)

	var stops []string
	require.NoError(t, json.Unmarshal(back.Stop, &stops))
	assert.Equal(t, []string{"END", "STOP"}, stops)

	assert.Equal(t, "low", back.ReasoningEffort)
	require.NotNil(t, back.MaxCompletionTokens)
	assert.EqualValues(t, 4096, *back.MaxCompletionTokens)
}

func TestGeminiClaudeRoundTripToolThreading(t *testing.T) {
	src := &gemini.GenerateContentRequest{
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: "stay factual"}}},
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: "weather in Oslo?"}}},
			{Role: "model", Parts: []gemini.Part{{FunctionCall: &gemini.FunctionCall{
				Name: "get_weather", Args: json.RawMessage(`{"city":"Oslo"}`),
			}}}},
			{Role: "user", Parts: []gemini.Part{{FunctionResponse: &gemini.FunctionResponse{
				Name: "get_weather", Response: json.RawMessage(`{"temp":-3}`),
			}}}},
		},
		Tools: []gemini.Tool{{FunctionDeclarations: []gemini.FunctionDeclaration{{
			Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`),
		}}}},
		GenerationConfig: &gemini.GenerationConfig{
			StopSequences:   []string{"DONE"},
			MaxOutputTokens: int64Ptr(2048),
		},
	}
	asClaude, perr := GeminiToClaudeRequest("gemini-2.5-pro", src, false)
	require.Nil(t, perr)
	require.Len(t, asClaude.Messages, 3)

	// assistant tool call became one tool_use block
	var blocks []claude.ContentBlock
	require.NoError(t, json.Unmarshal(asClaude.Messages[1].Content, &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_use", blocks[0].Type)
	assert.Equal(t, "get_weather", blocks[0].Name)

	// tool result threads by tool_use_id
	require.NoError(t, json.Unmarshal(asClaude.Messages[2].Content, &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_result", blocks[0].Type)
	assert.Equal(t, "toolu_get_weather", blocks[0].ToolUseID)

	back, perr := ClaudeToGeminiRequest(asClaude)
	require.Nil(t, perr)
	require.Len(t, back.Contents, 3)
	require.NotNil(t, back.Contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", back.Contents[1].Parts[0].FunctionCall.Name)
	require.NotNil(t, back.Contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", back.Contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, []string{"DONE"}, back.GenerationConfig.StopSequences)
	assert.EqualValues(t, 2048, *back.GenerationConfig.MaxOutputTokens)
}

func TestReasoningEffortGeminiFamilies(t *testing.T) {
	cases := []struct {
		model  string
		effort string
		budget int64
		level  string
	}{
		{"gemini-2.5-pro", EffortNone, 0, ""},
		{"gemini-2.5-flash", EffortLow, 1024, ""},
		{"gemini-2.5-pro", EffortMedium, 8192, ""},
		{"gemini-2.5-pro", EffortXHigh, 24576, ""},
		{"gemini-3-flash-preview", EffortMedium, 0, "medium"},
		{"gemini-3-pro-preview", EffortMedium, 0, "high"},
		{"gemini-3-pro-preview", EffortNone, 0, "low"},
	}
	for _, tc := range cases {
		cfg := geminiThinkingFromEffort(tc.effort, tc.model)
		require.NotNilf(t, cfg, "%s/%s", tc.model, tc.effort)
		if tc.level != "" {
			assert.Equalf(t, tc.level, cfg.ThinkingLevel, "%s/%s", tc.model, tc.effort)
		} else {
			require.NotNilf(t, cfg.ThinkingBudget, "%s/%s", tc.model, tc.effort)
			assert.EqualValuesf(t, tc.budget, *cfg.ThinkingBudget, "%s/%s", tc.model, tc.effort)
		}
	}
}

func TestJSONObjectFormatGetsMinimalSchema(t *testing.T) {
	req := &openai.ChatRequest{
		Model:          "claude-sonnet-4-5",
		Messages:       []openai.ChatMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
	}
	out, perr := ChatToClaudeRequest(req, false)
	require.Nil(t, perr)
	require.NotNil(t, out.OutputFormat)
	assert.Equal(t, "json_schema", out.OutputFormat.Type)
	assert.JSONEq(t, `{"type":"object"}`, string(out.OutputFormat.Schema))
}

func TestDataURLSplitting(t *testing.T) {
	mime, data, ok := splitDataURL("data:image/png;base64,aGVsbG8=")
	require.True(t, ok)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "aGVsbG8=", data)

	_, _, ok = splitDataURL("https://example.com/cat.png")
	assert.False(t, ok)
}

func TestImagePartsBecomeInlineData(t *testing.T) {
	req := &openai.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []openai.ChatMessage{{
			Role: "user",
			Content: json.RawMessage(`[
				{"type":"text","text":"what is this?"},
				{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,Zm9v"}}
			]`),
		}},
	}
	out, perr := ChatToClaudeRequest(req, false)
	require.Nil(t, perr)
	var blocks []claude.ContentBlock
	require.NoError(t, json.Unmarshal(out.Messages[0].Content, &blocks))
	require.Len(t, blocks, 2)
	require.NotNil(t, blocks[1].Source)
	assert.Equal(t, "base64", blocks[1].Source.Type)
	assert.Equal(t, "image/jpeg", blocks[1].Source.MediaType)
	assert.Equal(t, "Zm9v", blocks[1].Source.Data)
}

func TestUnknownToolBecomesCustomTool(t *testing.T) {
	req := chatFixture()
	req.Tools = append(req.Tools, openai.ChatTool{Type: "crystal_ball"})
	out, perr := ChatToClaudeRequest(req, false)
	require.Nil(t, perr)
	require.Len(t, out.Tools, 2)
	assert.Equal(t, "crystal_ball", out.Tools[1].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(out.Tools[1].InputSchema))
}

func TestBuiltinToolDictionary(t *testing.T) {
	req := &openai.ResponsesRequest{
		Model: "claude-sonnet-4-5",
		Input: json.RawMessage(`"hi"`),
		Tools: []openai.ResponsesTool{{Type: "web_search"}, {Type: "local_shell"}},
	}
	out, perr := ResponsesToClaudeRequest(req, false)
	require.Nil(t, perr)
	require.Len(t, out.Tools, 2)
	assert.Equal(t, "web_search_20250305", out.Tools[0].Type)
	assert.Equal(t, "bash_20250124", out.Tools[1].Type)
}

func TestTranslateResponseGeminiClient(t *testing.T) {
	msg := &claude.Message{
		ID:    "abc",
		Type:  "message",
		Role:  "assistant",
		Model: "claude-sonnet-4-5",
		Content: []claude.ContentBlock{
			{Type: "text", Text: "hello"},
		},
		StopReason: strPtr(claude.StopReasonEndTurn),
		Usage:      claude.Usage{InputTokens: int64Ptr(4), OutputTokens: int64Ptr(2)},
	}
	resp := ClaudeToGeminiResponse(msg)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "hello", resp.Candidates[0].Content.Parts[0].Text)
	assert.Equal(t, gemini.FinishReasonStop, resp.Candidates[0].FinishReason)
	require.NotNil(t, resp.UsageMetadata)
	assert.EqualValues(t, 6, *resp.UsageMetadata.TotalTokenCount)
}

func TestCountTokensTranslation(t *testing.T) {
	body := []byte(`{"model":"gpt-5.2","input":"hello world"}`)
	out, perr := translateCountTokensRequest(dispatch.OpenAIInputTokens, dispatch.ProtocolClaude, "", body)
	require.Nil(t, perr)
	var req claude.CountTokensRequest
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, "gpt-5.2", req.Model)
	require.Len(t, req.Messages, 1)

	resp, perr := translateCountTokensResponse(dispatch.OpenAIInputTokens, dispatch.ProtocolClaude, []byte(`{"input_tokens":42}`))
	require.Nil(t, perr)
	assert.JSONEq(t, `{"object":"response.input_tokens","input_tokens":42}`, string(resp))
}
