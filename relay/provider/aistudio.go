package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/pool"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const (
	aistudioDefaultBaseURL = "https://generativelanguage.googleapis.com"
	headerGoogAPIKey       = "x-goog-api-key"
)

var aistudioTable = dispatch.UniformTransform(dispatch.ProtocolGemini, dispatch.UsageGeminiGenerate)

func init() {
	aistudioTable[dispatch.OAuthStart] = dispatch.Unsupported()
	aistudioTable[dispatch.OAuthCallback] = dispatch.Unsupported()
	aistudioTable[dispatch.Usage] = dispatch.Unsupported()
}

type aistudioProvider struct {
	pool *pool.Pool
}

func newAIStudioProvider(p *pool.Pool) *aistudioProvider {
	return &aistudioProvider{pool: p}
}

func (p *aistudioProvider) Name() string           { return NameAIStudio }
func (p *aistudioProvider) Table() *dispatch.Table { return &aistudioTable }
func (p *aistudioProvider) Pool() *pool.Pool       { return p.pool }

func (p *aistudioProvider) Local(context.Context, *meta.Meta, *Request) ([]byte, *relaymodel.PassthroughError) {
	return nil, relaymodel.Unsupported()
}

func geminiPath(op dispatch.Operation, model, modelID string, stream bool) (method, path, query string) {
	switch op {
	case dispatch.GeminiGenerate:
		return http.MethodPost, fmt.Sprintf("/v1beta/models/%s:generateContent", model), ""
	case dispatch.GeminiGenerateStream:
		if !stream {
			return http.MethodPost, fmt.Sprintf("/v1beta/models/%s:generateContent", model), ""
		}
		return http.MethodPost, fmt.Sprintf("/v1beta/models/%s:streamGenerateContent", model), "alt=sse"
	case dispatch.GeminiCountTokens:
		return http.MethodPost, fmt.Sprintf("/v1beta/models/%s:countTokens", model), ""
	case dispatch.GeminiModelsList:
		return http.MethodGet, "/v1beta/models", ""
	case dispatch.GeminiModelsGet:
		return http.MethodGet, "/v1beta/models/" + modelID, ""
	}
	return "", "", ""
}

func (p *aistudioProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	stream := req.Op.IsStream() && !m.FakeStream
	method, path, query := geminiPath(req.Op, m.Model, req.ModelID, stream)
	if method == "" {
		return nil, relaymodel.Unsupported()
	}
	scope := scopeFor(req.Op, m.Model)

	baseURL := m.ConfigString("base_url", aistudioDefaultBaseURL)
	url := BuildURL(baseURL, path)
	if query != "" {
		url += "?" + query
	}

	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader(req.Body))
		if err != nil {
			return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(err.Error())}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(headerGoogAPIKey, entry.Secret.APIKey)

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
			Body:      req.Body,
		}
		return result, nil
	})
}
