package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/pool"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const (
	claudeDefaultBaseURL = "https://api.anthropic.com"
	headerAPIKey         = "x-api-key"
	headerVersion        = "anthropic-version"
	headerBeta           = "anthropic-beta"
	defaultVersion       = "2023-06-01"
)

var claudeTable = dispatch.UniformTransform(dispatch.ProtocolClaude, dispatch.UsageClaudeMessage)

func init() {
	// Anthropic api keys carry no OAuth surface and no usage endpoint.
	claudeTable[dispatch.OAuthStart] = dispatch.Unsupported()
	claudeTable[dispatch.OAuthCallback] = dispatch.Unsupported()
	claudeTable[dispatch.Usage] = dispatch.Unsupported()
}

type claudeProvider struct {
	pool *pool.Pool
}

func newClaudeProvider(p *pool.Pool) *claudeProvider {
	return &claudeProvider{pool: p}
}

func (p *claudeProvider) Name() string           { return NameClaude }
func (p *claudeProvider) Table() *dispatch.Table { return &claudeTable }
func (p *claudeProvider) Pool() *pool.Pool       { return p.pool }

func (p *claudeProvider) Local(context.Context, *meta.Meta, *Request) ([]byte, *relaymodel.PassthroughError) {
	return nil, relaymodel.Unsupported()
}

func claudePath(op dispatch.Operation, modelID string) (method, path string) {
	switch op {
	case dispatch.ClaudeMessages, dispatch.ClaudeMessagesStream:
		return http.MethodPost, "/v1/messages"
	case dispatch.ClaudeCountTokens:
		return http.MethodPost, "/v1/messages/count_tokens"
	case dispatch.ClaudeModelsList:
		return http.MethodGet, "/v1/models"
	case dispatch.ClaudeModelsGet:
		return http.MethodGet, "/v1/models/" + modelID
	}
	return "", ""
}

func (p *claudeProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	method, path := claudePath(req.Op, req.ModelID)
	if method == "" {
		return nil, relaymodel.Unsupported()
	}
	stream := req.Op.IsStream() && !m.FakeStream
	scope := scopeFor(req.Op, m.Model)

	body := req.Body
	if req.Op == dispatch.ClaudeMessagesStream {
		body, _ = sjson.SetBytes(body, "stream", stream)
		if m.Model != "" {
			body, _ = sjson.SetBytes(body, "model", m.Model)
		}
	}

	baseURL := m.ConfigString("base_url", claudeDefaultBaseURL)
	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		httpReq, err := http.NewRequestWithContext(ctx, method, BuildURL(baseURL, path), bodyReader(body))
		if err != nil {
			return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(err.Error())}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set(headerAPIKey, entry.Secret.APIKey)
		httpReq.Header.Set(headerVersion, clientHeaderOr(req.Header, headerVersion, defaultVersion))
		if beta := req.Header.Get(headerBeta); beta != "" {
			httpReq.Header.Set(headerBeta, beta)
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
			Headers:   httpReq.Header,
			Body:      body,
		}
		return result, nil
	})
}

// scopeFor limits disallow marks to the requested model on generate-family
// operations; auxiliary operations mark the whole credential.
func scopeFor(op dispatch.Operation, model string) pool.Scope {
	if model == "" {
		return pool.AllModels()
	}
	switch op {
	case dispatch.ClaudeModelsList, dispatch.GeminiModelsList, dispatch.OpenAIModelsList,
		dispatch.ClaudeModelsGet, dispatch.GeminiModelsGet, dispatch.OpenAIModelsGet:
		return pool.AllModels()
	}
	return pool.ModelScope(model)
}

func bodyReader(body []byte) *strings.Reader {
	return strings.NewReader(string(body))
}

func clientHeaderOr(h http.Header, key, fallback string) string {
	if h != nil {
		if v := h.Get(key); v != "" {
			return v
		}
	}
	return fallback
}
