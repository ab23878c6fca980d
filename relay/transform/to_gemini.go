package transform

import (
	"encoding/json"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// geminiThinkingFromEffort builds the family-aware thinking config.
func geminiThinkingFromEffort(effort, model string) *gemini.ThinkingConfig {
	if effort == "" {
		return nil
	}
	switch {
	case isGemini3Model(model):
		pro := isGeminiProModel(model)
		level := geminiThinkingLevelByEffort(effort, pro)
		return &gemini.ThinkingConfig{ThinkingLevel: level, IncludeThoughts: effort != EffortNone}
	case isGemini25Model(model):
		budget := geminiThinkingBudgetByEffort(effort)
		return &gemini.ThinkingConfig{ThinkingBudget: int64Ptr(budget), IncludeThoughts: budget > 0}
	default:
		if effort == EffortNone {
			return nil
		}
		return &gemini.ThinkingConfig{IncludeThoughts: true}
	}
}

// ClaudeToGeminiRequest maps a Claude Messages request onto Gemini
// GenerateContent.
func ClaudeToGeminiRequest(req *claude.MessageRequest) (*gemini.GenerateContentRequest, *relaymodel.PassthroughError) {
	out := &gemini.GenerateContentRequest{}

	if text, ok := stringOrBlocksToText(req.System); ok && text != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: text}}}
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		parts, perr := claudeContentToGeminiParts(msg.Content)
		if perr != nil {
			return nil, perr
		}
		out.Contents = append(out.Contents, gemini.Content{Role: role, Parts: parts})
	}

	gc := &gemini.GenerationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: trimStops(req.StopSequences),
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int64Ptr(req.MaxTokens)
	}
	if req.Thinking != nil {
		if req.Thinking.Type == "enabled" {
			budget := req.Thinking.BudgetTokens
			if budget <= 0 {
				budget = 1024
			}
			if isGemini3Model(req.Model) {
				gc.ThinkingConfig = geminiThinkingFromEffort(effortFromClaudeBudget(budget), req.Model)
			} else {
				gc.ThinkingConfig = &gemini.ThinkingConfig{ThinkingBudget: int64Ptr(budget), IncludeThoughts: true}
			}
		} else {
			gc.ThinkingConfig = &gemini.ThinkingConfig{ThinkingBudget: int64Ptr(0)}
		}
	}
	if req.OutputFormat != nil && req.OutputFormat.Type == "json_schema" {
		gc.ResponseMimeType = "application/json"
		if len(req.OutputFormat.Schema) > 0 && string(req.OutputFormat.Schema) != string(emptyObjectSchema) {
			gc.ResponseSchema = req.OutputFormat.Schema
		}
	}
	out.GenerationConfig = gc

	var decls []gemini.FunctionDeclaration
	var builtins gemini.Tool
	hasBuiltin := false
	for _, tool := range req.Tools {
		if tool.Type != "" {
			switch canonicalBuiltin[tool.Type] {
			case BuiltinWebSearch:
				builtins.GoogleSearch = &struct{}{}
				hasBuiltin = true
				continue
			case BuiltinCodeExecution:
				builtins.CodeExecution = &struct{}{}
				hasBuiltin = true
				continue
			}
		}
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = emptyObjectSchema
		}
		decls = append(decls, gemini.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}
	if len(decls) > 0 {
		out.Tools = append(out.Tools, gemini.Tool{FunctionDeclarations: decls})
	}
	if hasBuiltin {
		out.Tools = append(out.Tools, builtins)
	}

	if req.ToolChoice != nil {
		fc := &gemini.FunctionCallingConfig{}
		switch req.ToolChoice.Type {
		case "none":
			fc.Mode = "NONE"
		case "any":
			fc.Mode = "ANY"
		case "tool":
			fc.Mode = "ANY"
			fc.AllowedFunctionNames = []string{req.ToolChoice.Name}
		default:
			fc.Mode = "AUTO"
		}
		out.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: fc}
	}
	return out, nil
}

func claudeContentToGeminiParts(raw json.RawMessage) ([]gemini.Part, *relaymodel.PassthroughError) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []gemini.Part{{Text: s}}, nil
	}
	var blocks []claude.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, relaymodel.BadRequestf("unreadable message content")
	}
	var parts []gemini.Part
	for _, block := range blocks {
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
		case "tool_result":
			response := toolResultToJSONObject(block.Content)
			parts = append(parts, gemini.Part{FunctionResponse: &gemini.FunctionResponse{
				Name:     toolNameFromUseID(block.ToolUseID),
				Response: response,
			}})
		case "image":
			if block.Source == nil {
				continue
			}
			if block.Source.Type == "base64" {
				parts = append(parts, gemini.Part{InlineData: &gemini.Blob{
					MimeType: block.Source.MediaType, Data: block.Source.Data,
				}})
			} else {
				parts = append(parts, gemini.Part{FileData: &gemini.FileData{
					MimeType: block.Source.MediaType, FileURI: block.Source.URL,
				}})
			}
		case "document":
			if block.Source == nil {
				continue
			}
			mime := block.Source.MediaType
			if mime == "" {
				mime = defaultFileMime
			}
			if block.Source.Type == "base64" {
				parts = append(parts, gemini.Part{InlineData: &gemini.Blob{MimeType: mime, Data: block.Source.Data}})
			} else {
				parts = append(parts, gemini.Part{FileData: &gemini.FileData{MimeType: mime, FileURI: block.Source.URL}})
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, gemini.Part{Text: ""})
	}
	return parts, nil
}

// toolResultToJSONObject wraps non-object tool results so Gemini's
// functionResponse (which requires an object) accepts them.
func toolResultToJSONObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{"result":null}`)
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return json.RawMessage(`{"result":null}`)
	}
	if _, ok := probe.(map[string]any); ok {
		return raw
	}
	if s, ok := probe.(string); ok {
		return mustJSON(map[string]any{"result": s})
	}
	if blocks, ok := probe.([]any); ok {
		var texts string
		for _, b := range blocks {
			if m, ok := b.(map[string]any); ok {
				if t, ok := m["text"].(string); ok {
					texts += t
				}
			}
		}
		if texts != "" {
			return mustJSON(map[string]any{"result": texts})
		}
	}
	return mustJSON(map[string]any{"result": probe})
}

// toolNameFromUseID strips the synthetic toolu_ prefix used when Gemini
// function calls rounded through Claude.
func toolNameFromUseID(id string) string {
	const prefix = "toolu_"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return id
}

// ChatToGeminiRequest maps an OpenAI Chat Completions request onto Gemini
// GenerateContent.
func ChatToGeminiRequest(req *openai.ChatRequest) (*gemini.GenerateContentRequest, *relaymodel.PassthroughError) {
	// Thread through Claude's block model: chat messages translate cleanly
	// into it and the Gemini part mapping is shared with the Claude path.
	intermediate, perr := ChatToClaudeRequest(req, false)
	if perr != nil {
		return nil, perr
	}
	out, perr := ClaudeToGeminiRequest(intermediate)
	if perr != nil {
		return nil, perr
	}
	if req.ReasoningEffort != "" && out.GenerationConfig != nil {
		out.GenerationConfig.ThinkingConfig = geminiThinkingFromEffort(req.ReasoningEffort, req.Model)
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" && out.GenerationConfig != nil {
		out.GenerationConfig.ResponseMimeType = "application/json"
		out.GenerationConfig.ResponseSchema = nil
	}
	// Claude's default injection does not apply to Gemini.
	if effectiveMaxTokens(req.MaxTokens, req.MaxCompletionTokens) == nil && out.GenerationConfig != nil {
		out.GenerationConfig.MaxOutputTokens = nil
	}
	return out, nil
}

// ResponsesToGeminiRequest maps an OpenAI Responses request onto Gemini
// GenerateContent.
func ResponsesToGeminiRequest(req *openai.ResponsesRequest) (*gemini.GenerateContentRequest, *relaymodel.PassthroughError) {
	intermediate, perr := ResponsesToClaudeRequest(req, false)
	if perr != nil {
		return nil, perr
	}
	out, perr := ClaudeToGeminiRequest(intermediate)
	if perr != nil {
		return nil, perr
	}
	if req.Reasoning != nil && req.Reasoning.Effort != "" && out.GenerationConfig != nil {
		out.GenerationConfig.ThinkingConfig = geminiThinkingFromEffort(req.Reasoning.Effort, req.Model)
	}
	if req.MaxOutputTokens == nil && out.GenerationConfig != nil {
		out.GenerationConfig.MaxOutputTokens = nil
	}
	return out, nil
}
