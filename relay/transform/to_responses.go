package transform

import (
	"encoding/json"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// ChatToResponsesRequest maps a Chat Completions request onto the Responses
// API.
func ChatToResponsesRequest(req *openai.ChatRequest, stream bool) (*openai.ResponsesRequest, *relaymodel.PassthroughError) {
	out := &openai.ResponsesRequest{
		Model:             req.Model,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		ParallelToolCalls: req.ParallelToolCalls,
		ToolChoice:        req.ToolChoice,
		User:              req.User,
	}
	if stream {
		out.Stream = boolPtr(true)
	}
	if mt := effectiveMaxTokens(req.MaxTokens, req.MaxCompletionTokens); mt != nil {
		out.MaxOutputTokens = mt
	}
	if req.ReasoningEffort != "" {
		out.Reasoning = &openai.Reasoning{Effort: req.ReasoningEffort}
	}
	if req.ResponseFormat != nil {
		format := &openai.TextFormat{Type: req.ResponseFormat.Type}
		if req.ResponseFormat.JSONSchema != nil {
			format.Name = req.ResponseFormat.JSONSchema.Name
			format.Schema = req.ResponseFormat.JSONSchema.Schema
			format.Strict = req.ResponseFormat.JSONSchema.Strict
		}
		out.Text = &openai.TextConfig{Format: format}
	}

	var system []string
	var items []openai.InputItem
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text, ok := stringOrBlocksToText(msg.Content); ok {
				system = append(system, text)
			}
		case "assistant":
			if text, ok := stringOrBlocksToText(msg.Content); ok && text != "" {
				items = append(items, openai.InputItem{
					Type: "message", Role: "assistant", Content: mustJSON(text),
				})
			}
			for _, call := range msg.ToolCalls {
				items = append(items, openai.InputItem{
					Type:      "function_call",
					CallID:    call.ID,
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				})
			}
		case "tool":
			text, _ := stringOrBlocksToText(msg.Content)
			items = append(items, openai.InputItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: text,
			})
		case "user":
			content, perr := chatContentToResponsesContent(msg.Content)
			if perr != nil {
				return nil, perr
			}
			items = append(items, openai.InputItem{Type: "message", Role: "user", Content: content})
		}
	}
	// The Responses API has a dedicated system channel: instructions.
	out.Instructions = joinSystem(system)
	if len(items) > 0 {
		out.Input = mustJSON(items)
	}

	for _, tool := range req.Tools {
		if tool.Type == "function" && tool.Function != nil {
			schema := tool.Function.Parameters
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.Tools = append(out.Tools, openai.ResponsesTool{
				Type:        "function",
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  schema,
				Strict:      tool.Function.Strict,
			})
			continue
		}
		if canonical, ok := canonicalBuiltin[tool.Type]; ok {
			out.Tools = append(out.Tools, openai.ResponsesTool{Type: canonical})
			continue
		}
		out.Tools = append(out.Tools, openai.ResponsesTool{
			Type: "function", Name: tool.Type, Parameters: emptyObjectSchema,
		})
	}
	return out, nil
}

func chatContentToResponsesContent(raw json.RawMessage) (json.RawMessage, *relaymodel.PassthroughError) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return mustJSON(s), nil
	}
	var parts []openai.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, relaymodel.BadRequestf("unreadable message content")
	}
	var out []openai.InputContent
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, openai.InputContent{Type: "input_text", Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				out = append(out, openai.InputContent{Type: "input_image", ImageURL: p.ImageURL.URL})
			}
		case "file":
			if p.File != nil {
				out = append(out, openai.InputContent{
					Type: "input_file", FileData: p.File.FileData, Filename: p.File.Filename,
				})
			}
		}
	}
	return mustJSON(out), nil
}

// ClaudeToResponsesRequest maps a Claude Messages request onto the Responses
// API.
func ClaudeToResponsesRequest(req *claude.MessageRequest, stream bool) (*openai.ResponsesRequest, *relaymodel.PassthroughError) {
	out := &openai.ResponsesRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if stream {
		out.Stream = boolPtr(true)
	}
	if req.MaxTokens > 0 {
		out.MaxOutputTokens = int64Ptr(req.MaxTokens)
	}
	if text, ok := stringOrBlocksToText(req.System); ok {
		out.Instructions = text
	}
	if req.Thinking != nil {
		if req.Thinking.Type == "enabled" {
			out.Reasoning = &openai.Reasoning{Effort: effortFromClaudeBudget(req.Thinking.BudgetTokens)}
		} else {
			out.Reasoning = &openai.Reasoning{Effort: EffortNone}
		}
	}
	if req.OutputFormat != nil && req.OutputFormat.Type == "json_schema" {
		out.Text = &openai.TextConfig{Format: &openai.TextFormat{
			Type:   "json_schema",
			Name:   req.OutputFormat.Name,
			Schema: req.OutputFormat.Schema,
		}}
	}

	var items []openai.InputItem
	for _, msg := range req.Messages {
		role := msg.Role
		blocks, perr := claudeContentBlocks(msg.Content)
		if perr != nil {
			return nil, perr
		}
		var content []openai.InputContent
		for _, block := range blocks {
			switch block.Type {
			case "text":
				kind := "input_text"
				if role == "assistant" {
					kind = "output_text"
				}
				content = append(content, openai.InputContent{Type: kind, Text: block.Text})
			case "image":
				if block.Source == nil {
					continue
				}
				url := block.Source.URL
				if block.Source.Type == "base64" {
					url = buildDataURL(block.Source.MediaType, block.Source.Data)
				}
				content = append(content, openai.InputContent{Type: "input_image", ImageURL: url})
			case "document":
				if block.Source != nil && block.Source.Type == "base64" {
					mime := block.Source.MediaType
					if mime == "" {
						mime = defaultFileMime
					}
					content = append(content, openai.InputContent{
						Type: "input_file", FileData: buildDataURL(mime, block.Source.Data),
					})
				}
			case "tool_use":
				args := "{}"
				if len(block.Input) > 0 {
					args = string(block.Input)
				}
				items = append(items, openai.InputItem{
					Type:      "function_call",
					CallID:    block.ID,
					Name:      block.Name,
					Arguments: args,
				})
			case "tool_result":
				text, _ := stringOrBlocksToText(block.Content)
				items = append(items, openai.InputItem{
					Type:   "function_call_output",
					CallID: block.ToolUseID,
					Output: text,
				})
			}
		}
		if len(content) > 0 {
			items = append(items, openai.InputItem{Type: "message", Role: role, Content: mustJSON(content)})
		}
	}
	if len(items) > 0 {
		out.Input = mustJSON(items)
	}

	for _, tool := range req.Tools {
		if tool.Type == "" {
			schema := tool.InputSchema
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.Tools = append(out.Tools, openai.ResponsesTool{
				Type:        "function",
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			})
			continue
		}
		if canonical, ok := canonicalBuiltin[tool.Type]; ok {
			out.Tools = append(out.Tools, openai.ResponsesTool{Type: canonical})
			continue
		}
		out.Tools = append(out.Tools, openai.ResponsesTool{
			Type: "function", Name: tool.Name, Parameters: emptyObjectSchema,
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "none":
			out.ToolChoice = mustJSON("none")
		case "any":
			out.ToolChoice = mustJSON("required")
		case "tool":
			out.ToolChoice = mustJSON(map[string]any{"type": "function", "name": req.ToolChoice.Name})
		default:
			out.ToolChoice = mustJSON("auto")
		}
		if req.ToolChoice.DisableParallelToolUse != nil && *req.ToolChoice.DisableParallelToolUse {
			out.ParallelToolCalls = boolPtr(false)
		}
	}
	return out, nil
}

func claudeContentBlocks(raw json.RawMessage) ([]claude.ContentBlock, *relaymodel.PassthroughError) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []claude.ContentBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []claude.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, relaymodel.BadRequestf("unreadable message content")
	}
	return blocks, nil
}

// GeminiToResponsesRequest maps a Gemini GenerateContent request onto the
// Responses API.
func GeminiToResponsesRequest(model string, req *gemini.GenerateContentRequest, stream bool) (*openai.ResponsesRequest, *relaymodel.PassthroughError) {
	intermediate, perr := GeminiToClaudeRequest(model, req, false)
	if perr != nil {
		return nil, perr
	}
	out, perr := ClaudeToResponsesRequest(intermediate, stream)
	if perr != nil {
		return nil, perr
	}
	// Gemini never requires max tokens, so drop Claude's injected default.
	if req.GenerationConfig == nil || req.GenerationConfig.MaxOutputTokens == nil {
		out.MaxOutputTokens = nil
	}
	return out, nil
}
