package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// ChatToClaudeResponse renders a buffered Chat Completions response as a
// Claude message.
func ChatToClaudeResponse(resp *openai.ChatResponse) *claude.Message {
	msg := &claude.Message{
		ID:    "msg_" + resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
	}
	stop := claude.StopReasonEndTurn
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.ReasoningContent != "" {
			msg.Content = append(msg.Content, claude.ContentBlock{Type: "thinking", Thinking: choice.Message.ReasoningContent})
		}
		if choice.Message.Content != nil {
			msg.Content = append(msg.Content, claude.ContentBlock{Type: "text", Text: *choice.Message.Content})
		}
		for _, call := range choice.Message.ToolCalls {
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
		switch choice.FinishReason {
		case openai.FinishReasonLength:
			stop = claude.StopReasonMaxTokens
		case openai.FinishReasonToolCalls:
			stop = claude.StopReasonToolUse
		case openai.FinishReasonContentFilter:
			stop = claude.StopReasonRefusal
		}
	}
	if len(msg.Content) == 0 {
		msg.Content = append(msg.Content, claude.ContentBlock{Type: "text", Text: ""})
	}
	msg.StopReason = &stop
	if u := resp.Usage; u != nil {
		msg.Usage = claude.Usage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
		}
		if u.PromptTokensDetails != nil {
			msg.Usage.CacheReadInputTokens = u.PromptTokensDetails.CachedTokens
		}
	}
	return msg
}

// ChatToGeminiResponse renders a buffered Chat Completions response as a
// Gemini GenerateContent response.
func ChatToGeminiResponse(resp *openai.ChatResponse) *gemini.GenerateContentResponse {
	var parts []gemini.Part
	finish := gemini.FinishReasonStop
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.ReasoningContent != "" {
			parts = append(parts, gemini.Part{Text: choice.Message.ReasoningContent, Thought: true})
		}
		if choice.Message.Content != nil && *choice.Message.Content != "" {
			parts = append(parts, gemini.Part{Text: *choice.Message.Content})
		}
		for _, call := range choice.Message.ToolCalls {
			args := json.RawMessage(call.Function.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
				Name: call.Function.Name,
				Args: args,
			}})
		}
		if choice.FinishReason == openai.FinishReasonLength {
			finish = gemini.FinishReasonMaxTokens
		}
	}
	if len(parts) == 0 {
		parts = append(parts, gemini.Part{Text: ""})
	}
	out := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: parts},
			FinishReason: finish,
			Index:        intPtr(0),
		}},
		ModelVersion: resp.Model,
		ResponseID:   resp.ID,
	}
	if u := resp.Usage; u != nil {
		out.UsageMetadata = &gemini.UsageMetadata{
			PromptTokenCount:     u.PromptTokens,
			CandidatesTokenCount: u.CompletionTokens,
			TotalTokenCount:      u.TotalTokens,
		}
	}
	return out
}

// ChatToResponses renders a buffered Chat Completions response as a
// Responses object.
func ChatToResponses(resp *openai.ChatResponse) *openai.Response {
	out := &openai.Response{
		ID:        "resp_" + resp.ID,
		Object:    "response",
		CreatedAt: resp.Created,
		Status:    "completed",
		Model:     resp.Model,
	}
	if out.CreatedAt == 0 {
		out.CreatedAt = time.Now().Unix()
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
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
		content := []openai.OutputContent{{Type: "output_text", Text: text}}
		if choice.Message.Refusal != nil {
			content = append(content, openai.OutputContent{Type: "refusal", Refusal: *choice.Message.Refusal})
		}
		out.Output = append(out.Output, openai.OutputItem{
			Type:    "message",
			ID:      "msg_" + resp.ID,
			Role:    "assistant",
			Status:  "completed",
			Content: content,
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
	if u := resp.Usage; u != nil {
		out.Usage = &openai.ResponsesUsage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			TotalTokens:  u.TotalTokens,
		}
	}
	return out
}
