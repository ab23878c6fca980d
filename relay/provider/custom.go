package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/pool"
	"github.com/dfft546/gproxy/relay/transform"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// customTable serves every protocol natively: a custom backend is expected
// to expose the vendor paths of whichever protocol the caller speaks.
var customTable = func() dispatch.Table {
	var t dispatch.Table
	for op := dispatch.Operation(0); op < dispatch.OperationCount; op++ {
		switch op {
		case dispatch.ClaudeMessages, dispatch.ClaudeMessagesStream:
			t[op] = dispatch.Native(dispatch.UsageClaudeMessage)
		case dispatch.GeminiGenerate, dispatch.GeminiGenerateStream:
			t[op] = dispatch.Native(dispatch.UsageGeminiGenerate)
		case dispatch.OpenAIChat, dispatch.OpenAIChatStream:
			t[op] = dispatch.Native(dispatch.UsageOpenAIChat)
		case dispatch.OpenAIResponses, dispatch.OpenAIResponsesStream:
			t[op] = dispatch.Native(dispatch.UsageOpenAIResponses)
		case dispatch.OAuthStart, dispatch.OAuthCallback, dispatch.Usage:
			t[op] = dispatch.Unsupported()
		default:
			t[op] = dispatch.Native(dispatch.UsageNone)
		}
	}
	return t
}()

type customProvider struct {
	name string
	pool *pool.Pool
}

func newCustomProvider(name string, p *pool.Pool) *customProvider {
	return &customProvider{name: name, pool: p}
}

func (p *customProvider) Name() string           { return p.name }
func (p *customProvider) Table() *dispatch.Table { return &customTable }
func (p *customProvider) Pool() *pool.Pool       { return p.pool }

func (p *customProvider) Local(context.Context, *meta.Meta, *Request) ([]byte, *relaymodel.PassthroughError) {
	return nil, relaymodel.Unsupported()
}

func openaiPath(op dispatch.Operation, modelID string) (method, path string) {
	switch op {
	case dispatch.OpenAIChat, dispatch.OpenAIChatStream:
		return http.MethodPost, "/v1/chat/completions"
	case dispatch.OpenAIResponses, dispatch.OpenAIResponsesStream:
		return http.MethodPost, "/v1/responses"
	case dispatch.OpenAIInputTokens:
		return http.MethodPost, "/v1/responses/input_tokens"
	case dispatch.OpenAIModelsList:
		return http.MethodGet, "/v1/models"
	case dispatch.OpenAIModelsGet:
		return http.MethodGet, "/v1/models/" + modelID
	}
	return "", ""
}

// staticCatalog reads a models table from the provider config, letting a
// custom backend answer model listings without an upstream call.
func (p *customProvider) staticCatalog(m *meta.Meta) []transform.ModelCatalogEntry {
	raw, ok := m.ProviderConfig["models"]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var names []string
	if err := json.Unmarshal(encoded, &names); err != nil {
		return nil
	}
	var out []transform.ModelCatalogEntry
	for _, name := range names {
		out = append(out, transform.ModelCatalogEntry{ID: name})
	}
	return out
}

func (p *customProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.ClaudeModelsList, dispatch.GeminiModelsList, dispatch.OpenAIModelsList:
		if catalog := p.staticCatalog(m); catalog != nil {
			body, perr := transform.CatalogToList(req.Op, catalog)
			if perr != nil {
				return nil, perr
			}
			return localResult(req, m, body), nil
		}
	case dispatch.ClaudeModelsGet, dispatch.GeminiModelsGet, dispatch.OpenAIModelsGet:
		if catalog := p.staticCatalog(m); catalog != nil {
			for _, entry := range catalog {
				if entry.ID == req.ModelID {
					body, perr := transform.CatalogToGet(req.Op, entry)
					if perr != nil {
						return nil, perr
					}
					return localResult(req, m, body), nil
				}
			}
			return nil, relaymodel.NotFoundf("model %q not found", req.ModelID)
		}
	}

	stream := req.Op.IsStream() && !m.FakeStream
	var method, path, query string
	switch req.Op.Protocol() {
	case dispatch.ProtocolClaude:
		method, path = claudePath(req.Op, req.ModelID)
	case dispatch.ProtocolGemini:
		method, path, query = geminiPath(req.Op, m.Model, req.ModelID, stream)
	default:
		method, path = openaiPath(req.Op, req.ModelID)
	}
	if method == "" {
		return nil, relaymodel.Unsupported()
	}
	scope := scopeFor(req.Op, m.Model)

	body := req.Body
	switch req.Op {
	case dispatch.ClaudeMessagesStream:
		body, _ = sjson.SetBytes(body, "stream", stream)
	case dispatch.OpenAIChatStream:
		body, _ = sjson.SetBytes(body, "stream", stream)
		if stream {
			body, _ = sjson.SetBytes(body, "stream_options.include_usage", true)
		}
	case dispatch.OpenAIResponsesStream:
		body, _ = sjson.SetBytes(body, "stream", stream)
	}

	baseURL := m.ConfigString("base_url", "")
	if baseURL == "" {
		return nil, relaymodel.ServiceUnavailable("custom provider has no base_url")
	}
	url := BuildURL(baseURL, path)
	if query != "" {
		url += "?" + query
	}

	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader(body))
		if err != nil {
			return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(err.Error())}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		switch req.Op.Protocol() {
		case dispatch.ProtocolClaude:
			httpReq.Header.Set(headerAPIKey, entry.Secret.APIKey)
			httpReq.Header.Set(headerVersion, clientHeaderOr(req.Header, headerVersion, defaultVersion))
		case dispatch.ProtocolGemini:
			httpReq.Header.Set(headerGoogAPIKey, entry.Secret.APIKey)
		default:
			httpReq.Header.Set("Authorization", "Bearer "+entry.Secret.APIKey)
		}

		result, failure := Send(ctx, m, httpReq, stream, scope)
		if failure != nil {
			return nil, failure
		}
		result.CredentialID = entry.ID
		result.RecordMeta = RecordMeta{
			Operation: m.ProviderName + "." + req.Op.String(),
			Model:     m.Model,
			Method:    method,
			Path:      path,
			Query:     query,
			Headers:   httpReq.Header,
			Body:      body,
		}
		return result, nil
	})
}

// localResult wraps a locally synthesized body as a 200 result.
func localResult(req *Request, m *meta.Meta, body []byte) *Result {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Result{
		Status: http.StatusOK,
		Header: header,
		Body:   body,
		RecordMeta: RecordMeta{
			Operation: m.ProviderName + "." + req.Op.String(),
			Model:     m.Model,
			Method:    http.MethodGet,
			Path:      "(local)",
		},
	}
}
