package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

func chatFinishReasonFromClaude(stop *string) string {
	if stop == nil {
		return openai.FinishReasonStop
	}
	switch *stop {
	case claude.StopReasonMaxTokens:
		return openai.FinishReasonLength
	case claude.StopReasonToolUse:
		return openai.FinishReasonToolCalls
	case claude.StopReasonRefusal:
		return openai.FinishReasonContentFilter
	default:
		return openai.FinishReasonStop
	}
}

func geminiFinishReasonFromClaude(stop *string) string {
	if stop != nil && *stop == claude.StopReasonMaxTokens {
		return gemini.FinishReasonMaxTokens
	}
	return gemini.FinishReasonStop
}

func chatUsageFromClaude(u claude.Usage) *openai.ChatUsage {
	out := &openai.ChatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
	}
	if u.InputTokens != nil && u.OutputTokens != nil {
		out.TotalTokens = int64Ptr(*u.InputTokens + *u.OutputTokens)
	}
	if u.CacheReadInputTokens != nil {
		out.PromptTokensDetails = &struct {
			CachedTokens *int64 `json:"cached_tokens,omitempty"`
		}{CachedTokens: u.CacheReadInputTokens}
	}
	return out
}

// ClaudeToChatResponse renders a buffered Claude message as a Chat
// Completions response.
func ClaudeToChatResponse(msg *claude.Message) *openai.ChatResponse {
	text, toolCalls, _ := splitClaudeContent(msg.Content)
	finish := chatFinishReasonFromClaude(msg.StopReason)
	return &openai.ChatResponse{
		ID:      "chatcmpl-" + msg.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   msg.Model,
		Choices: []openai.ChatChoice{{
			Index: 0,
			Message: openai.ResponseMessage{
				Role:      "assistant",
				Content:   &text,
				ToolCalls: toolCalls,
			},
			FinishReason: finish,
		}},
		Usage: chatUsageFromClaude(msg.Usage),
	}
}

// splitClaudeContent separates a Claude content list into its text, tool
// calls, and thinking text.
func splitClaudeContent(blocks []claude.ContentBlock) (text string, toolCalls []openai.ToolCall, thinking string) {
	for _, block := range blocks {
		switch block.Type {
		case "text":
			text += block.Text
		case "thinking":
			thinking += block.Thinking
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	return text, toolCalls, thinking
}

// ClaudeToResponses renders a buffered Claude message as a Responses object.
func ClaudeToResponses(msg *claude.Message) *openai.Response {
	text, toolCalls, _ := splitClaudeContent(msg.Content)
	out := &openai.Response{
		ID:        "resp_" + msg.ID,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     msg.Model,
	}
	if msg.StopReason != nil && *msg.StopReason == claude.StopReasonMaxTokens {
		out.Status = "incomplete"
		out.IncompleteDetails = &struct {
			Reason string `json:"reason,omitempty"`
		}{Reason: "max_output_tokens"}
	}
	if text != "" || len(toolCalls) == 0 {
		out.Output = append(out.Output, openai.OutputItem{
			Type:   "message",
			ID:     "msg_" + msg.ID,
			Role:   "assistant",
			Status: "completed",
			Content: []openai.OutputContent{{
				Type: "output_text",
				Text: text,
			}},
		})
	}
	for _, call := range toolCalls {
		out.Output = append(out.Output, openai.OutputItem{
			Type:      "function_call",
			ID:        "fc_" + call.ID,
			CallID:    call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
			Status:    "completed",
		})
	}
	if u := chatUsageFromClaude(msg.Usage); u != nil {
		ru := &openai.ResponsesUsage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			TotalTokens:  u.TotalTokens,
		}
		if u.PromptTokensDetails != nil {
			ru.InputTokensDetails = &struct {
				CachedTokens *int64 `json:"cached_tokens,omitempty"`
			}{CachedTokens: u.PromptTokensDetails.CachedTokens}
		}
		out.Usage = ru
	}
	return out
}

// ClaudeToGeminiResponse renders a buffered Claude message as a Gemini
// GenerateContent response.
func ClaudeToGeminiResponse(msg *claude.Message) *gemini.GenerateContentResponse {
	var parts []gemini.Part
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			parts = append(parts, gemini.Part{Text: block.Text})
		case "thinking":
			parts = append(parts, gemini.Part{Text: block.Thinking, Thought: true})
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
				Name: block.Name,
				Args: args,
			}})
		}
	}
	if len(parts) == 0 {
		parts = append(parts, gemini.Part{Text: ""})
	}
	resp := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: parts},
			FinishReason: geminiFinishReasonFromClaude(msg.StopReason),
			Index:        intPtr(0),
		}},
		ModelVersion: msg.Model,
		ResponseID:   msg.ID,
	}
	u := msg.Usage
	if u.InputTokens != nil || u.OutputTokens != nil {
		meta := &gemini.UsageMetadata{
			PromptTokenCount:        u.InputTokens,
			CandidatesTokenCount:    u.OutputTokens,
			CachedContentTokenCount: u.CacheReadInputTokens,
		}
		if u.InputTokens != nil && u.OutputTokens != nil {
			meta.TotalTokenCount = int64Ptr(*u.InputTokens + *u.OutputTokens)
		}
		resp.UsageMetadata = meta
	}
	return resp
}
