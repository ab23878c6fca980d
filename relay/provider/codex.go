package provider

import (
	"context"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/oauth"
	"github.com/dfft546/gproxy/relay/pool"
	"github.com/dfft546/gproxy/relay/transform"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const codexDefaultBaseURL = "https://chatgpt.com/backend-api/codex"

// codexCatalog is the static models table: the codex backend exposes no
// listing endpoint.
var codexCatalog = []transform.ModelCatalogEntry{
	{ID: "gpt-5.2", DisplayName: "GPT-5.2"},
	{ID: "gpt-5.2-codex", DisplayName: "GPT-5.2 Codex"},
	{ID: "gpt-5.1-codex-max", DisplayName: "GPT-5.1 Codex Max"},
	{ID: "gpt-5.1-codex-mini", DisplayName: "GPT-5.1 Codex Mini"},
}

var codexTable = func() dispatch.Table {
	t := dispatch.UniformTransform(dispatch.ProtocolOpenAIResponses, dispatch.UsageOpenAIResponses)
	// Chat operations transform within the vendor family too: codex only
	// speaks the Responses protocol.
	t[dispatch.OpenAIChat] = dispatch.Transform(dispatch.ProtocolOpenAIResponses, dispatch.UsageOpenAIResponses)
	t[dispatch.OpenAIChatStream] = dispatch.Transform(dispatch.ProtocolOpenAIResponses, dispatch.UsageOpenAIResponses)
	// Model listings come from the static catalog.
	for _, op := range []dispatch.Operation{
		dispatch.ClaudeModelsList, dispatch.ClaudeModelsGet,
		dispatch.GeminiModelsList, dispatch.GeminiModelsGet,
		dispatch.OpenAIModelsList, dispatch.OpenAIModelsGet,
	} {
		t[op] = dispatch.Local()
	}
	return t
}()

type codexProvider struct {
	pool *pool.Pool
}

func newCodexProvider(p *pool.Pool) *codexProvider {
	return &codexProvider{pool: p}
}

func (p *codexProvider) Name() string           { return NameCodex }
func (p *codexProvider) Table() *dispatch.Table { return &codexTable }
func (p *codexProvider) Pool() *pool.Pool       { return p.pool }

func (p *codexProvider) endpoint() oauth.Endpoint {
	return oauth.Endpoint{
		TokenURL: oauth.OpenAITokenURL,
		ClientID: oauth.OpenAIClientID,
	}
}

func (p *codexProvider) Local(_ context.Context, m *meta.Meta, req *Request) ([]byte, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.ClaudeModelsList, dispatch.GeminiModelsList, dispatch.OpenAIModelsList:
		return transform.CatalogToList(req.Op, codexCatalog)
	case dispatch.ClaudeModelsGet, dispatch.GeminiModelsGet, dispatch.OpenAIModelsGet:
		for _, entry := range codexCatalog {
			if entry.ID == req.ModelID {
				return transform.CatalogToGet(req.Op, entry)
			}
		}
		return nil, relaymodel.NotFoundf("model %q not found", req.ModelID)
	}
	return nil, relaymodel.Unsupported()
}

func (p *codexProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.OAuthStart:
		return p.oauthStart(m)
	case dispatch.OAuthCallback:
		return p.oauthCallback(ctx, m, req)
	case dispatch.Usage:
		return nil, relaymodel.Unsupported()
	}

	var path string
	switch req.Op {
	case dispatch.OpenAIResponses, dispatch.OpenAIResponsesStream:
		path = "/responses"
	case dispatch.OpenAIInputTokens:
		path = "/responses/input_tokens"
	default:
		return nil, relaymodel.Unsupported()
	}
	stream := req.Op.IsStream() && !m.FakeStream
	scope := scopeFor(req.Op, m.Model)

	body := req.Body
	if req.Op == dispatch.OpenAIResponsesStream {
		body, _ = sjson.SetBytes(body, "stream", stream)
	}
	// The codex backend rejects stored responses.
	body, _ = sjson.SetBytes(body, "store", false)

	baseURL := m.ConfigString("base_url", codexDefaultBaseURL)
	url := BuildURL(baseURL, path)

	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		tokens, err := oauth.Ensure(ctx, p.pool, entry, p.endpoint(), m.Proxy)
		if err != nil {
			return nil, refreshFailure(scope, err)
		}

		send := func(accessToken string) (*Result, *pool.AttemptFailure) {
			httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader(body))
			if reqErr != nil {
				return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(reqErr.Error())}
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", "Bearer "+accessToken)
			httpReq.Header.Set("OpenAI-Beta", "responses=experimental")
			if entry.Secret.ProjectID != "" {
				httpReq.Header.Set("chatgpt-account-id", entry.Secret.ProjectID)
			}
			result, failure := Send(ctx, m, httpReq, stream, scope)
			if failure == nil {
				result.CredentialID = entry.ID
				result.RecordMeta = RecordMeta{
					Operation: m.ProviderName + "." + req.Op.String(),
					Model:     m.Model,
					Method:    http.MethodPost,
					Path:      path,
					Headers:   httpReq.Header,
					Body:      body,
				}
			}
			return result, failure
		}

		result, failure := send(tokens.AccessToken)
		if failure != nil {
			status := failure.Passthrough.StatusCode
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				fresh, refreshErr := oauth.ForceRefresh(ctx, p.pool, entry, p.endpoint(), m.Proxy)
				if refreshErr != nil {
					return nil, refreshFailure(scope, refreshErr)
				}
				if result, failure = send(fresh.AccessToken); failure != nil {
					return nil, deadOnAuth(failure)
				}
			} else {
				return nil, failure
			}
		}
		return result, nil
	})
}

func (p *codexProvider) oauthStart(m *meta.Meta) (*Result, *relaymodel.PassthroughError) {
	verifier, challenge := oauth.NewCodeVerifier()
	redirectURI := m.ConfigString("redirect_uri", "http://localhost:1455/auth/callback")
	state := oauth.PutState(oauth.AuthState{
		Provider:     NameCodex,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
	})
	body := mustMarshal(map[string]string{
		"auth_url": oauth.OpenAIAuthorizeLink(state, challenge, redirectURI),
		"state":    state,
	})
	return jsonResult(body), nil
}

func (p *codexProvider) oauthCallback(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	state, ok := oauth.ConsumeState(req.Query.Get("state"))
	if !ok || state.Provider != NameCodex {
		return nil, relaymodel.BadRequestf("unknown or expired oauth state")
	}
	tokens, err := oauth.ExchangeCode(ctx, oauth.OpenAITokenURL, oauth.OpenAIClientID,
		state.RedirectURI, req.Query.Get("code"), state.CodeVerifier, m.Proxy)
	if err != nil {
		return nil, relaymodel.BadRequestf("code exchange failed: %v", err)
	}
	credentialID, perr := insertOAuthCredential(m.ProviderId, tokens, "")
	if perr != nil {
		return nil, perr
	}
	return jsonResult(mustMarshal(map[string]any{"credential_id": credentialID})), nil
}
