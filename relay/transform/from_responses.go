package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// splitResponsesOutput separates a Responses output list into text, refusal
// text, and function calls.
func splitResponsesOutput(items []openai.OutputItem) (text, refusal, reasoning string, calls []openai.ToolCall) {
	for _, item := range items {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				switch content.Type {
				case "output_text":
					text += content.Text
				case "refusal":
					refusal += content.Refusal
				}
			}
		case "function_call":
			args := item.Arguments
			if args == "" {
				args = "{}"
			}
			calls = append(calls, openai.ToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      item.Name,
					Arguments: args,
				},
			})
		case "reasoning":
			for _, summary := range item.Summary {
				reasoning += summary.Text
			}
		}
	}
	return text, refusal, reasoning, calls
}

func chatFinishReasonFromResponses(resp *openai.Response, hasCalls bool) string {
	switch {
	case hasCalls:
		return openai.FinishReasonToolCalls
	case resp.Status == "incomplete":
		return openai.FinishReasonLength
	default:
		return openai.FinishReasonStop
	}
}

// ResponsesToChatResponse renders a buffered Responses object as a Chat
// Completions response.
func ResponsesToChatResponse(resp *openai.Response) *openai.ChatResponse {
	text, refusal, reasoning, calls := splitResponsesOutput(resp.Output)
	msg := openai.ResponseMessage{
		Role:             "assistant",
		Content:          &text,
		ToolCalls:        calls,
		ReasoningContent: reasoning,
	}
	if refusal != "" {
		msg.Refusal = &refusal
	}
	out := &openai.ChatResponse{
		ID:      "chatcmpl-" + resp.ID,
		Object:  "chat.completion",
		Created: resp.CreatedAt,
		Model:   resp.Model,
		Choices: []openai.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: chatFinishReasonFromResponses(resp, len(calls) > 0),
		}},
	}
	if out.Created == 0 {
		out.Created = time.Now().Unix()
	}
	if u := resp.Usage; u != nil {
		out.Usage = &openai.ChatUsage{
			PromptTokens:     u.InputTokens,
			CompletionTokens: u.OutputTokens,
			TotalTokens:      u.TotalTokens,
		}
		if u.InputTokensDetails != nil {
			out.Usage.PromptTokensDetails = &struct {
				CachedTokens *int64 `json:"cached_tokens,omitempty"`
			}{CachedTokens: u.InputTokensDetails.CachedTokens}
		}
	}
	return out
}

// ResponsesToClaudeResponse renders a buffered Responses object as a Claude
// message.
func ResponsesToClaudeResponse(model string, resp *openai.Response) *claude.Message {
	text, refusal, reasoning, calls := splitResponsesOutput(resp.Output)
	msg := &claude.Message{
		ID:    "msg_" + resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: model,
	}
	if reasoning != "" {
		msg.Content = append(msg.Content, claude.ContentBlock{Type: "thinking", Thinking: reasoning})
	}
	if text != "" || (refusal == "" && len(calls) == 0) {
		msg.Content = append(msg.Content, claude.ContentBlock{Type: "text", Text: text})
	}
	if refusal != "" {
		msg.Content = append(msg.Content, claude.ContentBlock{Type: "text", Text: refusal})
	}
	for _, call := range calls {
		input := json.RawMessage(call.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		msg.Content = append(msg.Content, claude.ContentBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	stop := claude.StopReasonEndTurn
	switch {
	case len(calls) > 0:
		stop = claude.StopReasonToolUse
	case resp.Status == "incomplete":
		stop = claude.StopReasonMaxTokens
	case refusal != "":
		stop = claude.StopReasonRefusal
	}
	msg.StopReason = &stop
	if u := resp.Usage; u != nil {
		msg.Usage = claude.Usage{
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
		}
		if u.InputTokensDetails != nil {
			msg.Usage.CacheReadInputTokens = u.InputTokensDetails.CachedTokens
		}
	}
	return msg
}

// ResponsesToGeminiResponse renders a buffered Responses object as a Gemini
// GenerateContent response.
func ResponsesToGeminiResponse(model string, resp *openai.Response) *gemini.GenerateContentResponse {
	text, refusal, reasoning, calls := splitResponsesOutput(resp.Output)
	var parts []gemini.Part
	if reasoning != "" {
		parts = append(parts, gemini.Part{Text: reasoning, Thought: true})
	}
	if text != "" {
		parts = append(parts, gemini.Part{Text: text})
	}
	if refusal != "" {
		parts = append(parts, gemini.Part{Text: refusal})
	}
	for _, call := range calls {
		args := json.RawMessage(call.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
			Name: call.Function.Name,
			Args: args,
		}})
	}
	if len(parts) == 0 {
		parts = append(parts, gemini.Part{Text: ""})
	}
	finish := gemini.FinishReasonStop
	if resp.Status == "incomplete" {
		finish = gemini.FinishReasonMaxTokens
	}
	out := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: parts},
			FinishReason: finish,
			Index:        intPtr(0),
		}},
		ModelVersion: model,
		ResponseID:   resp.ID,
	}
	if u := resp.Usage; u != nil {
		out.UsageMetadata = &gemini.UsageMetadata{
			PromptTokenCount:     u.InputTokens,
			CandidatesTokenCount: u.OutputTokens,
			TotalTokenCount:      u.TotalTokens,
		}
	}
	return out
}
