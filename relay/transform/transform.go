package transform

import (
	"encoding/json"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// TranslateRequest maps a client request body into the target protocol's
// request body for the upstream call. model is the resolved model name (for
// Gemini clients it comes from the URL, not the body).
func TranslateRequest(op dispatch.Operation, target dispatch.Protocol, model string, body []byte) ([]byte, *relaymodel.PassthroughError) {
	src := op.Protocol()
	if src == target {
		return body, nil
	}
	stream := op.IsStream()

	switch op {
	case dispatch.ClaudeMessages, dispatch.ClaudeMessagesStream:
		var req claude.MessageRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		switch target {
		case dispatch.ProtocolGemini:
			out, perr := ClaudeToGeminiRequest(&req)
			return marshalOr(out, perr)
		case dispatch.ProtocolOpenAIChat:
			out, perr := ClaudeToChatRequest(&req, stream)
			return marshalOr(out, perr)
		case dispatch.ProtocolOpenAIResponses:
			out, perr := ClaudeToResponsesRequest(&req, stream)
			return marshalOr(out, perr)
		}

	case dispatch.GeminiGenerate, dispatch.GeminiGenerateStream:
		var req gemini.GenerateContentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		switch target {
		case dispatch.ProtocolClaude:
			out, perr := GeminiToClaudeRequest(model, &req, stream)
			return marshalOr(out, perr)
		case dispatch.ProtocolOpenAIChat:
			out, perr := GeminiToChatRequest(model, &req, stream)
			return marshalOr(out, perr)
		case dispatch.ProtocolOpenAIResponses:
			out, perr := GeminiToResponsesRequest(model, &req, stream)
			return marshalOr(out, perr)
		}

	case dispatch.OpenAIChat, dispatch.OpenAIChatStream:
		var req openai.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		switch target {
		case dispatch.ProtocolClaude:
			out, perr := ChatToClaudeRequest(&req, stream)
			return marshalOr(out, perr)
		case dispatch.ProtocolGemini:
			out, perr := ChatToGeminiRequest(&req)
			return marshalOr(out, perr)
		case dispatch.ProtocolOpenAIResponses:
			out, perr := ChatToResponsesRequest(&req, stream)
			return marshalOr(out, perr)
		}

	case dispatch.OpenAIResponses, dispatch.OpenAIResponsesStream:
		var req openai.ResponsesRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		switch target {
		case dispatch.ProtocolClaude:
			out, perr := ResponsesToClaudeRequest(&req, stream)
			return marshalOr(out, perr)
		case dispatch.ProtocolGemini:
			out, perr := ResponsesToGeminiRequest(&req)
			return marshalOr(out, perr)
		case dispatch.ProtocolOpenAIChat:
			out, perr := ResponsesToChatRequest(&req, stream)
			return marshalOr(out, perr)
		}

	case dispatch.ClaudeCountTokens, dispatch.GeminiCountTokens, dispatch.OpenAIInputTokens:
		return translateCountTokensRequest(op, target, model, body)

	case dispatch.ClaudeModelsList, dispatch.GeminiModelsList, dispatch.OpenAIModelsList,
		dispatch.ClaudeModelsGet, dispatch.GeminiModelsGet, dispatch.OpenAIModelsGet:
		return nil, nil
	}
	return nil, relaymodel.BadRequestf("operation %s cannot target %s", op, target)
}

func marshalOr(v any, perr *relaymodel.PassthroughError) ([]byte, *relaymodel.PassthroughError) {
	if perr != nil {
		return nil, perr
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, relaymodel.BadRequestf("unencodable request")
	}
	return raw, nil
}

// translateCountTokensRequest reuses the generate-request mappings: a count
// request is a generate request without sampling parameters.
func translateCountTokensRequest(op dispatch.Operation, target dispatch.Protocol, model string, body []byte) ([]byte, *relaymodel.PassthroughError) {
	switch op {
	case dispatch.ClaudeCountTokens:
		var req claude.CountTokensRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		full := &claude.MessageRequest{
			Model: req.Model, MaxTokens: claudeDefaultMaxTokens,
			Messages: req.Messages, System: req.System,
			Tools: req.Tools, ToolChoice: req.ToolChoice, Thinking: req.Thinking,
		}
		switch target {
		case dispatch.ProtocolGemini:
			out, perr := ClaudeToGeminiRequest(full)
			if perr != nil {
				return nil, perr
			}
			return marshalOr(&gemini.CountTokensRequest{GenerateContentRequest: out}, nil)
		case dispatch.ProtocolOpenAIChat, dispatch.ProtocolOpenAIResponses:
			out, perr := ClaudeToResponsesRequest(full, false)
			if perr != nil {
				return nil, perr
			}
			return marshalOr(&openai.InputTokensRequest{Model: out.Model, Input: out.Input}, nil)
		}

	case dispatch.GeminiCountTokens:
		var req gemini.CountTokensRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		gen := req.GenerateContentRequest
		if gen == nil {
			gen = &gemini.GenerateContentRequest{Contents: req.Contents}
		}
		switch target {
		case dispatch.ProtocolClaude:
			out, perr := GeminiToClaudeRequest(model, gen, false)
			if perr != nil {
				return nil, perr
			}
			return marshalOr(&claude.CountTokensRequest{
				Model: out.Model, Messages: out.Messages, System: out.System,
				Tools: out.Tools, ToolChoice: out.ToolChoice, Thinking: out.Thinking,
			}, nil)
		case dispatch.ProtocolOpenAIChat, dispatch.ProtocolOpenAIResponses:
			out, perr := GeminiToResponsesRequest(model, gen, false)
			if perr != nil {
				return nil, perr
			}
			return marshalOr(&openai.InputTokensRequest{Model: out.Model, Input: out.Input}, nil)
		}

	case dispatch.OpenAIInputTokens:
		var req openai.InputTokensRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, relaymodel.BadRequestf("unreadable request body")
		}
		full := &openai.ResponsesRequest{Model: req.Model, Input: req.Input}
		switch target {
		case dispatch.ProtocolClaude:
			out, perr := ResponsesToClaudeRequest(full, false)
			if perr != nil {
				return nil, perr
			}
			return marshalOr(&claude.CountTokensRequest{
				Model: out.Model, Messages: out.Messages, System: out.System,
			}, nil)
		case dispatch.ProtocolGemini:
			out, perr := ResponsesToGeminiRequest(full)
			if perr != nil {
				return nil, perr
			}
			return marshalOr(&gemini.CountTokensRequest{GenerateContentRequest: out}, nil)
		}
	}
	return nil, relaymodel.BadRequestf("operation %s cannot target %s", op, target)
}

// TranslateResponse maps a buffered upstream response body back into the
// client protocol.
func TranslateResponse(op dispatch.Operation, upstream dispatch.Protocol, model string, body []byte) ([]byte, *relaymodel.PassthroughError) {
	if op.Protocol() == upstream {
		return body, nil
	}

	switch op {
	case dispatch.ClaudeMessages, dispatch.ClaudeMessagesStream:
		switch upstream {
		case dispatch.ProtocolGemini:
			var resp gemini.GenerateContentResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(GeminiToClaudeResponse(model, &resp), nil)
		case dispatch.ProtocolOpenAIChat:
			var resp openai.ChatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ChatToClaudeResponse(&resp), nil)
		case dispatch.ProtocolOpenAIResponses:
			var resp openai.Response
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ResponsesToClaudeResponse(model, &resp), nil)
		}

	case dispatch.GeminiGenerate, dispatch.GeminiGenerateStream:
		switch upstream {
		case dispatch.ProtocolClaude:
			var resp claude.Message
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ClaudeToGeminiResponse(&resp), nil)
		case dispatch.ProtocolOpenAIChat:
			var resp openai.ChatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ChatToGeminiResponse(&resp), nil)
		case dispatch.ProtocolOpenAIResponses:
			var resp openai.Response
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ResponsesToGeminiResponse(model, &resp), nil)
		}

	case dispatch.OpenAIChat, dispatch.OpenAIChatStream:
		switch upstream {
		case dispatch.ProtocolClaude:
			var resp claude.Message
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ClaudeToChatResponse(&resp), nil)
		case dispatch.ProtocolGemini:
			var resp gemini.GenerateContentResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(GeminiToChatResponse(model, &resp), nil)
		case dispatch.ProtocolOpenAIResponses:
			var resp openai.Response
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ResponsesToChatResponse(&resp), nil)
		}

	case dispatch.OpenAIResponses, dispatch.OpenAIResponsesStream:
		switch upstream {
		case dispatch.ProtocolClaude:
			var resp claude.Message
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ClaudeToResponses(&resp), nil)
		case dispatch.ProtocolGemini:
			var resp gemini.GenerateContentResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(GeminiToResponses(model, &resp), nil)
		case dispatch.ProtocolOpenAIChat:
			var resp openai.ChatResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, relaymodel.TransformFailed("")
			}
			return marshalOr(ChatToResponses(&resp), nil)
		}

	case dispatch.ClaudeCountTokens, dispatch.GeminiCountTokens, dispatch.OpenAIInputTokens:
		return translateCountTokensResponse(op, upstream, body)

	case dispatch.ClaudeModelsList, dispatch.GeminiModelsList, dispatch.OpenAIModelsList:
		return translateModelsList(op, upstream, body)

	case dispatch.ClaudeModelsGet, dispatch.GeminiModelsGet, dispatch.OpenAIModelsGet:
		return translateModelsGet(op, upstream, model, body)
	}
	return nil, relaymodel.TransformFailed("")
}

func countFromBody(upstream dispatch.Protocol, body []byte) (int64, bool) {
	switch upstream {
	case dispatch.ProtocolClaude:
		var resp claude.CountTokensResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, false
		}
		return resp.InputTokens, true
	case dispatch.ProtocolGemini:
		var resp gemini.CountTokensResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, false
		}
		return resp.TotalTokens, true
	default:
		var resp openai.InputTokensResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, false
		}
		return resp.InputTokens, true
	}
}

func translateCountTokensResponse(op dispatch.Operation, upstream dispatch.Protocol, body []byte) ([]byte, *relaymodel.PassthroughError) {
	count, ok := countFromBody(upstream, body)
	if !ok {
		return nil, relaymodel.TransformFailed("")
	}
	switch op {
	case dispatch.ClaudeCountTokens:
		return marshalOr(&claude.CountTokensResponse{InputTokens: count}, nil)
	case dispatch.GeminiCountTokens:
		return marshalOr(&gemini.CountTokensResponse{TotalTokens: count}, nil)
	default:
		return marshalOr(&openai.InputTokensResponse{Object: "response.input_tokens", InputTokens: count}, nil)
	}
}

func catalogFromBody(upstream dispatch.Protocol, body []byte) ([]ModelCatalogEntry, bool) {
	switch upstream {
	case dispatch.ProtocolClaude:
		var list claude.ModelsList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, false
		}
		return CatalogFromClaudeModels(&list), true
	case dispatch.ProtocolGemini:
		var list gemini.ModelsList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, false
		}
		return CatalogFromGeminiModels(&list), true
	default:
		var list openai.ModelsList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, false
		}
		return CatalogFromOpenAIModels(&list), true
	}
}

// CatalogToList renders a catalog in the protocol the operation's client
// expects.
func CatalogToList(op dispatch.Operation, entries []ModelCatalogEntry) ([]byte, *relaymodel.PassthroughError) {
	switch op.Protocol() {
	case dispatch.ProtocolClaude:
		return marshalOr(CatalogToClaudeModels(entries), nil)
	case dispatch.ProtocolGemini:
		return marshalOr(CatalogToGeminiModels(entries), nil)
	default:
		return marshalOr(CatalogToOpenAIModels(entries), nil)
	}
}

func translateModelsList(op dispatch.Operation, upstream dispatch.Protocol, body []byte) ([]byte, *relaymodel.PassthroughError) {
	entries, ok := catalogFromBody(upstream, body)
	if !ok {
		return nil, relaymodel.TransformFailed("")
	}
	return CatalogToList(op, entries)
}

// CatalogToGet renders one catalog entry in the operation's client protocol.
func CatalogToGet(op dispatch.Operation, entry ModelCatalogEntry) ([]byte, *relaymodel.PassthroughError) {
	switch op.Protocol() {
	case dispatch.ProtocolClaude:
		list := CatalogToClaudeModels([]ModelCatalogEntry{entry})
		return marshalOr(&list.Data[0], nil)
	case dispatch.ProtocolGemini:
		list := CatalogToGeminiModels([]ModelCatalogEntry{entry})
		return marshalOr(&list.Models[0], nil)
	default:
		list := CatalogToOpenAIModels([]ModelCatalogEntry{entry})
		return marshalOr(&list.Data[0], nil)
	}
}

func translateModelsGet(op dispatch.Operation, upstream dispatch.Protocol, model string, body []byte) ([]byte, *relaymodel.PassthroughError) {
	switch upstream {
	case dispatch.ProtocolClaude:
		var info claude.ModelInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, relaymodel.TransformFailed("")
		}
		entries := CatalogFromClaudeModels(&claude.ModelsList{Data: []claude.ModelInfo{info}})
		return CatalogToGet(op, entries[0])
	case dispatch.ProtocolGemini:
		var info gemini.ModelInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, relaymodel.TransformFailed("")
		}
		entries := CatalogFromGeminiModels(&gemini.ModelsList{Models: []gemini.ModelInfo{info}})
		return CatalogToGet(op, entries[0])
	default:
		var info openai.ModelInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, relaymodel.TransformFailed("")
		}
		entries := CatalogFromOpenAIModels(&openai.ModelsList{Data: []openai.ModelInfo{info}})
		return CatalogToGet(op, entries[0])
	}
}
