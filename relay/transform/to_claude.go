package transform

import (
	"encoding/json"
	"strings"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// ChatToClaudeRequest maps an OpenAI Chat Completions request onto Claude
// Messages. System/developer turns fan into the system field; assistant
// tool calls and their tool results thread into tool_use/tool_result blocks.
func ChatToClaudeRequest(req *openai.ChatRequest, stream bool) (*claude.MessageRequest, *relaymodel.PassthroughError) {
	out := &claude.MessageRequest{
		Model:         req.Model,
		StopSequences: flattenStop(req.Stop),
		Temperature:   clampTemperatureForClaude(req.Temperature),
		TopP:          req.TopP,
	}
	if stream {
		out.Stream = boolPtr(true)
	}

	if mt := effectiveMaxTokens(req.MaxTokens, req.MaxCompletionTokens); mt != nil && *mt > 0 {
		out.MaxTokens = *mt
	} else {
		out.MaxTokens = claudeDefaultMaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text, ok := stringOrBlocksToText(msg.Content); ok {
				system = append(system, text)
			}
		case "user":
			blocks, err := chatContentToClaudeBlocks(msg.Content)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, claude.MessageParam{Role: "user", Content: blocks})
		case "assistant":
			blocks, err := chatAssistantToClaudeBlocks(msg)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, claude.MessageParam{Role: "assistant", Content: blocks})
		case "tool":
			text, _ := stringOrBlocksToText(msg.Content)
			result := []claude.ContentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   mustJSON(text),
			}}
			raw, _ := json.Marshal(result)
			out.Messages = append(out.Messages, claude.MessageParam{Role: "user", Content: raw})
		}
	}
	if text := joinSystem(system); text != "" {
		out.System = mustJSON(text)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, chatToolToClaude(tool))
	}
	out.ToolChoice = chatToolChoiceToClaude(req.ToolChoice, req.ParallelToolCalls)
	out.Thinking = claudeThinkingFromEffort(req.ReasoningEffort)
	out.OutputFormat = chatResponseFormatToClaude(req.ResponseFormat)
	return out, nil
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// chatContentToClaudeBlocks converts a chat content value into Claude blocks.
// All-text part lists collapse into a single text block.
func chatContentToClaudeBlocks(raw json.RawMessage) (json.RawMessage, *relaymodel.PassthroughError) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return mustJSON(s), nil
	}
	var parts []openai.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, relaymodel.BadRequestf("unreadable message content")
	}

	allText := true
	for _, p := range parts {
		if p.Type != "text" {
			allText = false
			break
		}
	}
	if allText {
		var texts []string
		for _, p := range parts {
			texts = append(texts, p.Text)
		}
		return mustJSON(joinSystem(texts)), nil
	}

	var blocks []claude.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, claude.ContentBlock{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mime, data, ok := splitDataURL(p.ImageURL.URL); ok {
				blocks = append(blocks, claude.ContentBlock{Type: "image", Source: &claude.Source{
					Type: "base64", MediaType: mime, Data: data,
				}})
			} else {
				blocks = append(blocks, claude.ContentBlock{Type: "image", Source: &claude.Source{
					Type: "url", URL: p.ImageURL.URL,
				}})
			}
		case "file":
			if p.File == nil {
				continue
			}
			if mime, data, ok := splitDataURL(p.File.FileData); ok {
				blocks = append(blocks, claude.ContentBlock{Type: "document", Source: &claude.Source{
					Type: "base64", MediaType: mime, Data: data,
				}})
			} else if p.File.FileData != "" {
				blocks = append(blocks, claude.ContentBlock{Type: "document", Source: &claude.Source{
					Type: "base64", MediaType: defaultFileMime, Data: p.File.FileData,
				}})
			}
		default:
			// Unsupported part kinds are dropped, never fatal.
		}
	}
	return mustJSON(blocks), nil
}

func chatAssistantToClaudeBlocks(msg openai.ChatMessage) (json.RawMessage, *relaymodel.PassthroughError) {
	var blocks []claude.ContentBlock
	if text, ok := stringOrBlocksToText(msg.Content); ok && text != "" {
		blocks = append(blocks, claude.ContentBlock{Type: "text", Text: text})
	}
	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, claude.ContentBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, claude.ContentBlock{Type: "text", Text: ""})
	}
	return mustJSON(blocks), nil
}

func chatToolToClaude(tool openai.ChatTool) claude.Tool {
	if tool.Type == "function" && tool.Function != nil {
		schema := tool.Function.Parameters
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		return claude.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		}
	}
	if canonical, ok := canonicalBuiltin[tool.Type]; ok {
		if typ, ok := claudeBuiltinType[canonical]; ok {
			return claude.Tool{Type: typ, Name: canonical}
		}
	}
	// Unrecognized tools become generic custom tools with empty schemas.
	name := tool.Type
	if name == "" {
		name = "custom_tool"
	}
	return claude.Tool{Name: name, InputSchema: emptyObjectSchema}
}

func chatToolChoiceToClaude(raw json.RawMessage, parallel *bool) *claude.ToolChoice {
	var disable *bool
	if parallel != nil && !*parallel {
		disable = boolPtr(true)
	}
	if len(raw) == 0 {
		if disable == nil {
			return nil
		}
		return &claude.ToolChoice{Type: "auto", DisableParallelToolUse: disable}
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "none":
			return &claude.ToolChoice{Type: "none"}
		case "required":
			return &claude.ToolChoice{Type: "any", DisableParallelToolUse: disable}
		default:
			return &claude.ToolChoice{Type: "auto", DisableParallelToolUse: disable}
		}
	}
	var named openai.NamedToolChoice
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil
	}
	switch named.Type {
	case "function":
		if named.Function != nil {
			return &claude.ToolChoice{Type: "tool", Name: named.Function.Name, DisableParallelToolUse: disable}
		}
	case "allowed_tools":
		if len(named.Tools) == 1 && named.Tools[0].Function != nil {
			return &claude.ToolChoice{Type: "tool", Name: named.Tools[0].Function.Name, DisableParallelToolUse: disable}
		}
		if named.Mode == "required" {
			return &claude.ToolChoice{Type: "any", DisableParallelToolUse: disable}
		}
		return &claude.ToolChoice{Type: "auto", DisableParallelToolUse: disable}
	}
	return &claude.ToolChoice{Type: "auto", DisableParallelToolUse: disable}
}

func claudeThinkingFromEffort(effort string) *claude.ThinkingConfig {
	switch effort {
	case "":
		return nil
	case EffortNone:
		return &claude.ThinkingConfig{Type: "disabled"}
	default:
		return &claude.ThinkingConfig{Type: "enabled", BudgetTokens: 1024}
	}
}

func chatResponseFormatToClaude(format *openai.ResponseFormat) *claude.OutputFormat {
	if format == nil {
		return nil
	}
	switch format.Type {
	case "json_object":
		return &claude.OutputFormat{Type: "json_schema", Schema: emptyObjectSchema}
	case "json_schema":
		out := &claude.OutputFormat{Type: "json_schema", Schema: emptyObjectSchema}
		if format.JSONSchema != nil {
			if len(format.JSONSchema.Schema) > 0 {
				out.Schema = format.JSONSchema.Schema
			}
			out.Name = format.JSONSchema.Name
		}
		return out
	default:
		return nil
	}
}

// ResponsesToClaudeRequest maps an OpenAI Responses request onto Claude
// Messages.
func ResponsesToClaudeRequest(req *openai.ResponsesRequest, stream bool) (*claude.MessageRequest, *relaymodel.PassthroughError) {
	out := &claude.MessageRequest{
		Model:       req.Model,
		Temperature: clampTemperatureForClaude(req.Temperature),
		TopP:        req.TopP,
	}
	if stream {
		out.Stream = boolPtr(true)
	}
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens > 0 {
		out.MaxTokens = clampMaxTokens(*req.MaxOutputTokens)
	} else {
		out.MaxTokens = claudeDefaultMaxTokens
	}

	system := []string{req.Instructions}
	items, perr := responsesInputItems(req.Input)
	if perr != nil {
		return nil, perr
	}
	for _, item := range items {
		switch {
		case item.Type == "function_call":
			input := json.RawMessage(item.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			blocks := []claude.ContentBlock{{Type: "tool_use", ID: item.CallID, Name: item.Name, Input: input}}
			out.Messages = append(out.Messages, claude.MessageParam{Role: "assistant", Content: mustJSON(blocks)})
		case item.Type == "function_call_output":
			blocks := []claude.ContentBlock{{Type: "tool_result", ToolUseID: item.CallID, Content: mustJSON(item.Output)}}
			out.Messages = append(out.Messages, claude.MessageParam{Role: "user", Content: mustJSON(blocks)})
		case item.Role == "system" || item.Role == "developer":
			if text, ok := responsesContentToText(item.Content); ok {
				system = append(system, text)
			}
		case item.Role == "assistant":
			text, _ := responsesContentToText(item.Content)
			blocks := []claude.ContentBlock{{Type: "text", Text: text}}
			out.Messages = append(out.Messages, claude.MessageParam{Role: "assistant", Content: mustJSON(blocks)})
		default:
			blocks, perr := responsesContentToClaudeBlocks(item.Content)
			if perr != nil {
				return nil, perr
			}
			out.Messages = append(out.Messages, claude.MessageParam{Role: "user", Content: blocks})
		}
	}
	if text := joinSystem(system); text != "" {
		out.System = mustJSON(text)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, responsesToolToClaude(tool))
	}
	out.ToolChoice = chatToolChoiceToClaude(req.ToolChoice, req.ParallelToolCalls)
	if req.Reasoning != nil {
		out.Thinking = claudeThinkingFromEffort(req.Reasoning.Effort)
	}
	if req.Text != nil && req.Text.Format != nil {
		switch req.Text.Format.Type {
		case "json_object":
			out.OutputFormat = &claude.OutputFormat{Type: "json_schema", Schema: emptyObjectSchema}
		case "json_schema":
			schema := req.Text.Format.Schema
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.OutputFormat = &claude.OutputFormat{Type: "json_schema", Schema: schema, Name: req.Text.Format.Name}
		}
	}
	return out, nil
}

// responsesInputItems normalizes the polymorphic input value into items: a
// bare string becomes a single user message.
func responsesInputItems(raw json.RawMessage) ([]openai.InputItem, *relaymodel.PassthroughError) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []openai.InputItem{{Type: "message", Role: "user", Content: mustJSON(s)}}, nil
	}
	var items []openai.InputItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, relaymodel.BadRequestf("unreadable input value")
	}
	return items, nil
}

func responsesContentToText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var parts []openai.InputContent
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", false
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return joinSystem(texts), len(texts) > 0
}

func responsesContentToClaudeBlocks(raw json.RawMessage) (json.RawMessage, *relaymodel.PassthroughError) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return mustJSON(s), nil
	}
	var parts []openai.InputContent
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, relaymodel.BadRequestf("unreadable message content")
	}
	var blocks []claude.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text":
			blocks = append(blocks, claude.ContentBlock{Type: "text", Text: p.Text})
		case "input_image":
			if mime, data, ok := splitDataURL(p.ImageURL); ok {
				blocks = append(blocks, claude.ContentBlock{Type: "image", Source: &claude.Source{
					Type: "base64", MediaType: mime, Data: data,
				}})
			} else if p.ImageURL != "" {
				blocks = append(blocks, claude.ContentBlock{Type: "image", Source: &claude.Source{
					Type: "url", URL: p.ImageURL,
				}})
			}
		case "input_file":
			if mime, data, ok := splitDataURL(p.FileData); ok {
				blocks = append(blocks, claude.ContentBlock{Type: "document", Source: &claude.Source{
					Type: "base64", MediaType: mime, Data: data,
				}})
			} else if p.FileData != "" {
				blocks = append(blocks, claude.ContentBlock{Type: "document", Source: &claude.Source{
					Type: "base64", MediaType: defaultFileMime, Data: p.FileData,
				}})
			}
		}
	}
	return mustJSON(blocks), nil
}

func responsesToolToClaude(tool openai.ResponsesTool) claude.Tool {
	if tool.Type == "function" {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		return claude.Tool{Name: tool.Name, Description: tool.Description, InputSchema: schema}
	}
	if canonical, ok := canonicalBuiltin[tool.Type]; ok {
		if typ, ok := claudeBuiltinType[canonical]; ok {
			return claude.Tool{Type: typ, Name: canonical}
		}
		return claude.Tool{Name: canonical, InputSchema: emptyObjectSchema}
	}
	name := tool.Name
	if name == "" {
		name = tool.Type
	}
	return claude.Tool{Name: name, InputSchema: emptyObjectSchema}
}

// GeminiToClaudeRequest maps a Gemini GenerateContent request onto Claude
// Messages.
func GeminiToClaudeRequest(model string, req *gemini.GenerateContentRequest, stream bool) (*claude.MessageRequest, *relaymodel.PassthroughError) {
	out := &claude.MessageRequest{
		Model:     model,
		MaxTokens: claudeDefaultMaxTokens,
	}
	if stream {
		out.Stream = boolPtr(true)
	}

	if req.SystemInstruction != nil {
		var texts []string
		for _, part := range req.SystemInstruction.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		if text := joinSystem(texts); text != "" {
			out.System = mustJSON(text)
		}
	}

	for _, content := range req.Contents {
		role := "user"
		if content.Role == "model" {
			role = "assistant"
		}
		blocks := geminiPartsToClaudeBlocks(content.Parts)
		out.Messages = append(out.Messages, claude.MessageParam{Role: role, Content: mustJSON(blocks)})
	}

	if gc := req.GenerationConfig; gc != nil {
		out.Temperature = clampTemperatureForClaude(gc.Temperature)
		out.TopP = gc.TopP
		out.TopK = gc.TopK
		out.StopSequences = trimStops(gc.StopSequences)
		if gc.MaxOutputTokens != nil && *gc.MaxOutputTokens > 0 {
			out.MaxTokens = clampMaxTokens(*gc.MaxOutputTokens)
		}
		if tc := gc.ThinkingConfig; tc != nil {
			if tc.ThinkingBudget != nil && *tc.ThinkingBudget > 0 {
				out.Thinking = &claude.ThinkingConfig{Type: "enabled", BudgetTokens: *tc.ThinkingBudget}
			} else if tc.ThinkingLevel != "" && tc.ThinkingLevel != "none" {
				out.Thinking = &claude.ThinkingConfig{Type: "enabled", BudgetTokens: 1024}
			} else {
				out.Thinking = &claude.ThinkingConfig{Type: "disabled"}
			}
		}
		if gc.ResponseMimeType == "application/json" {
			schema := gc.ResponseSchema
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.OutputFormat = &claude.OutputFormat{Type: "json_schema", Schema: schema}
		}
	}

	for _, tool := range req.Tools {
		for _, decl := range tool.FunctionDeclarations {
			schema := decl.Parameters
			if len(schema) == 0 {
				schema = emptyObjectSchema
			}
			out.Tools = append(out.Tools, claude.Tool{
				Name:        decl.Name,
				Description: decl.Description,
				InputSchema: schema,
			})
		}
		if tool.GoogleSearch != nil {
			out.Tools = append(out.Tools, claude.Tool{Type: claudeBuiltinType[BuiltinWebSearch], Name: BuiltinWebSearch})
		}
		if tool.CodeExecution != nil {
			out.Tools = append(out.Tools, claude.Tool{Type: claudeBuiltinType[BuiltinCodeExecution], Name: BuiltinCodeExecution})
		}
	}

	if req.ToolConfig != nil && req.ToolConfig.FunctionCallingConfig != nil {
		fc := req.ToolConfig.FunctionCallingConfig
		switch fc.Mode {
		case "NONE":
			out.ToolChoice = &claude.ToolChoice{Type: "none"}
		case "ANY":
			if len(fc.AllowedFunctionNames) == 1 {
				out.ToolChoice = &claude.ToolChoice{Type: "tool", Name: fc.AllowedFunctionNames[0]}
			} else {
				out.ToolChoice = &claude.ToolChoice{Type: "any"}
			}
		case "AUTO":
			out.ToolChoice = &claude.ToolChoice{Type: "auto"}
		}
	}
	return out, nil
}

func trimStops(stops []string) []string {
	var out []string
	for _, s := range stops {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func geminiPartsToClaudeBlocks(parts []gemini.Part) []claude.ContentBlock {
	var blocks []claude.ContentBlock
	for _, part := range parts {
		switch {
		case part.FunctionCall != nil:
			input := part.FunctionCall.Args
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, claude.ContentBlock{
				Type:  "tool_use",
				ID:    "toolu_" + part.FunctionCall.Name,
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		case part.FunctionResponse != nil:
			blocks = append(blocks, claude.ContentBlock{
				Type:      "tool_result",
				ToolUseID: "toolu_" + part.FunctionResponse.Name,
				Content:   part.FunctionResponse.Response,
			})
		case part.InlineData != nil:
			blocks = append(blocks, claude.ContentBlock{Type: "image", Source: &claude.Source{
				Type: "base64", MediaType: part.InlineData.MimeType, Data: part.InlineData.Data,
			}})
		case part.FileData != nil:
			mime := part.FileData.MimeType
			if mime == "" {
				mime = defaultFileMime
			}
			blocks = append(blocks, claude.ContentBlock{Type: "document", Source: &claude.Source{
				Type: "url", MediaType: mime, URL: part.FileData.FileURI,
			}})
		case part.Thought:
			blocks = append(blocks, claude.ContentBlock{Type: "thinking", Thinking: part.Text})
		case part.Text != "":
			blocks = append(blocks, claude.ContentBlock{Type: "text", Text: part.Text})
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, claude.ContentBlock{Type: "text", Text: ""})
	}
	return blocks
}
