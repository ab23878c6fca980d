package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

func claudeStopReasonFromGemini(finish string) string {
	switch finish {
	case gemini.FinishReasonMaxTokens:
		return claude.StopReasonMaxTokens
	default:
		return claude.StopReasonEndTurn
	}
}

func chatFinishReasonFromGemini(finish string, hasCalls bool) string {
	switch {
	case hasCalls:
		return openai.FinishReasonToolCalls
	case finish == gemini.FinishReasonMaxTokens:
		return openai.FinishReasonLength
	case finish == gemini.FinishReasonSafety:
		return openai.FinishReasonContentFilter
	default:
		return openai.FinishReasonStop
	}
}

func claudeUsageFromGemini(meta *gemini.UsageMetadata) claude.Usage {
	if meta == nil {
		return claude.Usage{}
	}
	return claude.Usage{
		InputTokens:          meta.PromptTokenCount,
		OutputTokens:         meta.CandidatesTokenCount,
		CacheReadInputTokens: meta.CachedContentTokenCount,
	}
}

// GeminiToClaudeResponse renders a buffered Gemini response as a Claude
// message.
func GeminiToClaudeResponse(model string, resp *gemini.GenerateContentResponse) *claude.Message {
	msg := &claude.Message{
		ID:    "msg_" + responseIDOr(resp.ResponseID),
		Type:  "message",
		Role:  "assistant",
		Model: model,
		Usage: claudeUsageFromGemini(resp.UsageMetadata),
	}
	stop := claude.StopReasonEndTurn
	hasToolUse := false
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		stop = claudeStopReasonFromGemini(candidate.FinishReason)
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					hasToolUse = true
					args := part.FunctionCall.Args
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					msg.Content = append(msg.Content, claude.ContentBlock{
						Type:  "tool_use",
						ID:    "toolu_" + part.FunctionCall.Name,
						Name:  part.FunctionCall.Name,
						Input: args,
					})
				case part.Thought:
					msg.Content = append(msg.Content, claude.ContentBlock{Type: "thinking", Thinking: part.Text})
				case part.Text != "":
					msg.Content = append(msg.Content, claude.ContentBlock{Type: "text", Text: part.Text})
				}
			}
		}
	}
	if len(msg.Content) == 0 {
		msg.Content = append(msg.Content, claude.ContentBlock{Type: "text", Text: ""})
	}
	if hasToolUse && stop == claude.StopReasonEndTurn {
		stop = claude.StopReasonToolUse
	}
	msg.StopReason = &stop
	return msg
}

func responseIDOr(id string) string {
	if id != "" {
		return id
	}
	return "gen"
}

// GeminiToChatResponse renders a buffered Gemini response as a Chat
// Completions response.
func GeminiToChatResponse(model string, resp *gemini.GenerateContentResponse) *openai.ChatResponse {
	var text string
	var calls []openai.ToolCall
	finish := ""
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		finish = candidate.FinishReason
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					args := "{}"
					if len(part.FunctionCall.Args) > 0 {
						args = string(part.FunctionCall.Args)
					}
					calls = append(calls, openai.ToolCall{
						ID:   "call_" + part.FunctionCall.Name,
						Type: "function",
						Function: openai.FunctionCall{
							Name:      part.FunctionCall.Name,
							Arguments: args,
						},
					})
				case part.Thought:
				case part.Text != "":
					text += part.Text
				}
			}
		}
	}
	out := &openai.ChatResponse{
		ID:      "chatcmpl-" + responseIDOr(resp.ResponseID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatChoice{{
			Index: 0,
			Message: openai.ResponseMessage{
				Role:      "assistant",
				Content:   &text,
				ToolCalls: calls,
			},
			FinishReason: chatFinishReasonFromGemini(finish, len(calls) > 0),
		}},
	}
	if meta := resp.UsageMetadata; meta != nil {
		out.Usage = &openai.ChatUsage{
			PromptTokens:     meta.PromptTokenCount,
			CompletionTokens: meta.CandidatesTokenCount,
			TotalTokens:      meta.TotalTokenCount,
		}
		if meta.CachedContentTokenCount != nil {
			out.Usage.PromptTokensDetails = &struct {
				CachedTokens *int64 `json:"cached_tokens,omitempty"`
			}{CachedTokens: meta.CachedContentTokenCount}
		}
	}
	return out
}

// GeminiToResponses renders a buffered Gemini response as a Responses object.
func GeminiToResponses(model string, resp *gemini.GenerateContentResponse) *openai.Response {
	chat := GeminiToChatResponse(model, resp)
	out := &openai.Response{
		ID:        "resp_" + responseIDOr(resp.ResponseID),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     model,
	}
	if len(chat.Choices) > 0 {
		choice := chat.Choices[0]
		if choice.FinishReason == openai.FinishReasonLength {
			out.Status = "incomplete"
			out.IncompleteDetails = &struct {
				Reason string `json:"reason,omitempty"`
			}{Reason: "max_output_tokens"}
		}
		text := ""
		if choice.Message.Content != nil {
			text = *choice.Message.Content
		}
		out.Output = append(out.Output, openai.OutputItem{
			Type:   "message",
			ID:     "msg_" + responseIDOr(resp.ResponseID),
			Role:   "assistant",
			Status: "completed",
			Content: []openai.OutputContent{{
				Type: "output_text",
				Text: text,
			}},
		})
		for _, call := range choice.Message.ToolCalls {
			out.Output = append(out.Output, openai.OutputItem{
				Type:      "function_call",
				ID:        "fc_" + call.ID,
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
				Status:    "completed",
			})
		}
	}
	if chat.Usage != nil {
		out.Usage = &openai.ResponsesUsage{
			InputTokens:  chat.Usage.PromptTokens,
			OutputTokens: chat.Usage.CompletionTokens,
			TotalTokens:  chat.Usage.TotalTokens,
		}
	}
	return out
}
