package transform

import (
	"encoding/json"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// ClaudeToChatRequest maps a Claude Messages request onto Chat Completions.
func ClaudeToChatRequest(req *claude.MessageRequest, stream bool) (*openai.ChatRequest, *relaymodel.PassthroughError) {
	out := &openai.ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if stream {
		out.Stream = boolPtr(true)
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = int64Ptr(req.MaxTokens)
	}
	if stops := trimStops(req.StopSequences); len(stops) > 0 {
		out.Stop = mustJSON(stops)
	}
	if req.Thinking != nil {
		if req.Thinking.Type == "enabled" {
			out.ReasoningEffort = effortFromClaudeBudget(req.Thinking.BudgetTokens)
		} else {
			out.ReasoningEffort = EffortNone
		}
	}
	if req.OutputFormat != nil && req.OutputFormat.Type == "json_schema" {
		format := &openai.ResponseFormat{Type: "json_schema", JSONSchema: &openai.JSONSchema{
			Name:   req.OutputFormat.Name,
			Schema: req.OutputFormat.Schema,
		}}
		if format.JSONSchema.Name == "" {
			format.JSONSchema.Name = "response"
		}
		out.ResponseFormat = format
	}

	if text, ok := stringOrBlocksToText(req.System); ok && text != "" {
		out.Messages = append(out.Messages, openai.ChatMessage{Role: "system", Content: mustJSON(text)})
	}

	for _, msg := range req.Messages {
		blocks, perr := claudeContentBlocks(msg.Content)
		if perr != nil {
			return nil, perr
		}
		if msg.Role == "assistant" {
			chat := openai.ChatMessage{Role: "assistant"}
			var text string
			for _, block := range blocks {
				switch block.Type {
				case "text":
					text += block.Text
				case "tool_use":
					args := "{}"
					if len(block.Input) > 0 {
						args = string(block.Input)
					}
					chat.ToolCalls = append(chat.ToolCalls, openai.ToolCall{
						ID:   block.ID,
						Type: "function",
						Function: openai.FunctionCall{
							Name:      block.Name,
							Arguments: args,
						},
					})
				}
			}
			if text != "" || len(chat.ToolCalls) == 0 {
				chat.Content = mustJSON(text)
			}
			out.Messages = append(out.Messages, chat)
			continue
		}

		// user turn: tool results become tool-role messages, the rest
		// becomes content parts.
		var parts []openai.ContentPart
		for _, block := range blocks {
			switch block.Type {
			case "text":
				parts = append(parts, openai.ContentPart{Type: "text", Text: block.Text})
			case "image":
				if block.Source == nil {
					continue
				}
				url := block.Source.URL
				if block.Source.Type == "base64" {
					url = buildDataURL(block.Source.MediaType, block.Source.Data)
				}
				parts = append(parts, openai.ContentPart{Type: "image_url", ImageURL: &openai.ImageURL{URL: url}})
			case "document":
				if block.Source != nil && block.Source.Type == "base64" {
					mime := block.Source.MediaType
					if mime == "" {
						mime = defaultFileMime
					}
					parts = append(parts, openai.ContentPart{Type: "file", File: &openai.FilePart{
						FileData: buildDataURL(mime, block.Source.Data),
					}})
				}
			case "tool_result":
				text, _ := stringOrBlocksToText(block.Content)
				out.Messages = append(out.Messages, openai.ChatMessage{
					Role:       "tool",
					ToolCallID: block.ToolUseID,
					Content:    mustJSON(text),
				})
			}
		}
		if len(parts) > 0 {
			allText := true
			for _, p := range parts {
				if p.Type != "text" {
					allText = false
					break
				}
			}
			if allText {
				var text string
				for _, p := range parts {
					text += p.Text
				}
				out.Messages = append(out.Messages, openai.ChatMessage{Role: "user", Content: mustJSON(text)})
			} else {
				out.Messages = append(out.Messages, openai.ChatMessage{Role: "user", Content: mustJSON(parts)})
			}
		}
	}

	for _, tool := range req.Tools {
		if tool.Type == "" {
			schema := tool.InputSchema
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.Tools = append(out.Tools, openai.ChatTool{Type: "function", Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			}})
			continue
		}
		name := canonicalBuiltin[tool.Type]
		if name == "" {
			name = tool.Name
		}
		out.Tools = append(out.Tools, openai.ChatTool{Type: "function", Function: &openai.FunctionDefinition{
			Name:       name,
			Parameters: emptyObjectSchema,
		}})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "none":
			out.ToolChoice = mustJSON("none")
		case "any":
			out.ToolChoice = mustJSON("required")
		case "tool":
			out.ToolChoice = mustJSON(map[string]any{
				"type": "function", "function": map[string]any{"name": req.ToolChoice.Name},
			})
		default:
			out.ToolChoice = mustJSON("auto")
		}
		if req.ToolChoice.DisableParallelToolUse != nil && *req.ToolChoice.DisableParallelToolUse {
			out.ParallelToolCalls = boolPtr(false)
		}
	}
	return out, nil
}

// GeminiToChatRequest maps a Gemini GenerateContent request onto Chat
// Completions.
func GeminiToChatRequest(model string, req *gemini.GenerateContentRequest, stream bool) (*openai.ChatRequest, *relaymodel.PassthroughError) {
	intermediate, perr := GeminiToClaudeRequest(model, req, false)
	if perr != nil {
		return nil, perr
	}
	out, perr := ClaudeToChatRequest(intermediate, stream)
	if perr != nil {
		return nil, perr
	}
	if req.GenerationConfig == nil || req.GenerationConfig.MaxOutputTokens == nil {
		out.MaxCompletionTokens = nil
	}
	return out, nil
}

// ResponsesToChatRequest maps a Responses API request onto Chat Completions.
func ResponsesToChatRequest(req *openai.ResponsesRequest, stream bool) (*openai.ChatRequest, *relaymodel.PassthroughError) {
	out := &openai.ChatRequest{
		Model:             req.Model,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		ParallelToolCalls: req.ParallelToolCalls,
		ToolChoice:        req.ToolChoice,
		User:              req.User,
	}
	if stream {
		out.Stream = boolPtr(true)
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxOutputTokens != nil {
		out.MaxCompletionTokens = req.MaxOutputTokens
	}
	if req.Reasoning != nil {
		out.ReasoningEffort = req.Reasoning.Effort
	}
	if req.Text != nil && req.Text.Format != nil {
		format := &openai.ResponseFormat{Type: req.Text.Format.Type}
		if req.Text.Format.Type == "json_schema" {
			format.JSONSchema = &openai.JSONSchema{
				Name:   req.Text.Format.Name,
				Schema: req.Text.Format.Schema,
				Strict: req.Text.Format.Strict,
			}
		}
		out.ResponseFormat = format
	}
	if req.Instructions != "" {
		out.Messages = append(out.Messages, openai.ChatMessage{Role: "system", Content: mustJSON(req.Instructions)})
	}

	items, perr := responsesInputItems(req.Input)
	if perr != nil {
		return nil, perr
	}
	for _, item := range items {
		switch {
		case item.Type == "function_call":
			out.Messages = append(out.Messages, openai.ChatMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case item.Type == "function_call_output":
			out.Messages = append(out.Messages, openai.ChatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    mustJSON(item.Output),
			})
		default:
			role := item.Role
			if role == "" {
				role = "user"
			}
			content, perr := responsesContentToChatContent(item.Content)
			if perr != nil {
				return nil, perr
			}
			out.Messages = append(out.Messages, openai.ChatMessage{Role: role, Content: content})
		}
	}

	for _, tool := range req.Tools {
		if tool.Type == "function" {
			schema := tool.Parameters
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.Tools = append(out.Tools, openai.ChatTool{Type: "function", Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
				Strict:      tool.Strict,
			}})
			continue
		}
		name := canonicalBuiltin[tool.Type]
		if name == "" {
			name = tool.Type
		}
		out.Tools = append(out.Tools, openai.ChatTool{Type: "function", Function: &openai.FunctionDefinition{
			Name:       name,
			Parameters: emptyObjectSchema,
		}})
	}
	return out, nil
}

func responsesContentToChatContent(raw json.RawMessage) (json.RawMessage, *relaymodel.PassthroughError) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return mustJSON(s), nil
	}
	var parts []openai.InputContent
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, relaymodel.BadRequestf("unreadable message content")
	}
	var out []openai.ContentPart
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text":
			out = append(out, openai.ContentPart{Type: "text", Text: p.Text})
		case "input_image":
			out = append(out, openai.ContentPart{Type: "image_url", ImageURL: &openai.ImageURL{URL: p.ImageURL}})
		case "input_file":
			out = append(out, openai.ContentPart{Type: "file", File: &openai.FilePart{
				FileData: p.FileData, Filename: p.Filename,
			}})
		}
	}
	return mustJSON(out), nil
}
