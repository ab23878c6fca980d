package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Laisky/zap"
	"github.com/tidwall/gjson"

	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/oauth"
	"github.com/dfft546/gproxy/relay/pool"
	"github.com/dfft546/gproxy/relay/transform"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const (
	geminiCLIDefaultBaseURL = "https://cloudcode-pa.googleapis.com"
	geminiCLIUserAgent      = "GeminiCLI/0.1.5 (Windows; AMD64)"
	geminiCLIClientID       = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiCLIClientSecret   = "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"
)

// geminiCLICatalog is the static models table of the cloudcode backend.
var geminiCLICatalog = []transform.ModelCatalogEntry{
	{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-3-flash-preview", DisplayName: "Gemini 3 Flash Preview", InputLimit: 1048576, OutputLimit: 65536},
}

var geminiCLITable = func() dispatch.Table {
	t := dispatch.UniformTransform(dispatch.ProtocolGemini, dispatch.UsageGeminiGenerate)
	for _, op := range []dispatch.Operation{
		dispatch.ClaudeModelsList, dispatch.ClaudeModelsGet,
		dispatch.GeminiModelsList, dispatch.GeminiModelsGet,
		dispatch.OpenAIModelsList, dispatch.OpenAIModelsGet,
	} {
		t[op] = dispatch.Local()
	}
	return t
}()

type geminiCLIProvider struct {
	pool *pool.Pool
}

func newGeminiCLIProvider(p *pool.Pool) *geminiCLIProvider {
	return &geminiCLIProvider{pool: p}
}

func (p *geminiCLIProvider) Name() string           { return NameGeminiCLI }
func (p *geminiCLIProvider) Table() *dispatch.Table { return &geminiCLITable }
func (p *geminiCLIProvider) Pool() *pool.Pool       { return p.pool }

func (p *geminiCLIProvider) endpoint() oauth.Endpoint {
	return oauth.Endpoint{
		TokenURL:     oauth.GoogleEndpoint.TokenURL,
		ClientID:     geminiCLIClientID,
		ClientSecret: geminiCLIClientSecret,
		UserAgent:    geminiCLIUserAgent,
	}
}

func (p *geminiCLIProvider) Local(_ context.Context, m *meta.Meta, req *Request) ([]byte, *relaymodel.PassthroughError) {
	return localCatalog(req, geminiCLICatalog)
}

func localCatalog(req *Request, catalog []transform.ModelCatalogEntry) ([]byte, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.ClaudeModelsList, dispatch.GeminiModelsList, dispatch.OpenAIModelsList:
		return transform.CatalogToList(req.Op, catalog)
	case dispatch.ClaudeModelsGet, dispatch.GeminiModelsGet, dispatch.OpenAIModelsGet:
		for _, entry := range catalog {
			if entry.ID == req.ModelID {
				return transform.CatalogToGet(req.Op, entry)
			}
		}
		return nil, relaymodel.NotFoundf("model %q not found", req.ModelID)
	}
	return nil, relaymodel.Unsupported()
}

// cloudcodePath maps Gemini operations onto the v1internal RPC surface.
func cloudcodePath(op dispatch.Operation, stream bool) (path, query string) {
	switch op {
	case dispatch.GeminiGenerate:
		return "/v1internal:generateContent", ""
	case dispatch.GeminiGenerateStream:
		if !stream {
			return "/v1internal:generateContent", ""
		}
		return "/v1internal:streamGenerateContent", "alt=sse"
	case dispatch.GeminiCountTokens:
		return "/v1internal:countTokens", ""
	}
	return "", ""
}

// wrapCloudcodeBody wraps a Gemini body in the cloudcode envelope.
func wrapCloudcodeBody(modelName, project string, body []byte) []byte {
	wrapped := map[string]json.RawMessage{
		"model":   mustMarshal(modelName),
		"request": body,
	}
	if project != "" {
		wrapped["project"] = mustMarshal(project)
	}
	return mustMarshal(wrapped)
}

// unwrapCloudcodeFrame extracts the inner response from the {response: ...}
// envelope cloudcode wraps around every payload.
func unwrapCloudcodeFrame(data []byte) []byte {
	if inner := gjson.GetBytes(data, "response"); inner.Exists() {
		return []byte(inner.Raw)
	}
	return data
}

func (p *geminiCLIProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.OAuthStart:
		return googleOAuthStart(NameGeminiCLI, geminiCLIClientID, oauth.GeminiCLIScope, m)
	case dispatch.OAuthCallback:
		return googleOAuthCallback(ctx, NameGeminiCLI, geminiCLIClientID, geminiCLIClientSecret,
			geminiCLIDefaultBaseURL, geminiCLIUserAgent, m, req)
	case dispatch.Usage:
		return nil, relaymodel.Unsupported()
	}

	stream := req.Op.IsStream() && !m.FakeStream
	path, query := cloudcodePath(req.Op, stream)
	if path == "" {
		return nil, relaymodel.Unsupported()
	}
	scope := scopeFor(req.Op, m.Model)

	baseURL := m.ConfigString("base_url", geminiCLIDefaultBaseURL)
	url := BuildURL(baseURL, path)
	if query != "" {
		url += "?" + query
	}

	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		tokens, err := oauth.Ensure(ctx, p.pool, entry, p.endpoint(), m.Proxy)
		if err != nil {
			return nil, refreshFailure(scope, err)
		}
		project, failure := p.ensureProject(ctx, m, entry, tokens.AccessToken, scope)
		if failure != nil {
			return nil, failure
		}
		body := wrapCloudcodeBody(m.Model, project, req.Body)

		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader(body))
		if reqErr != nil {
			return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(reqErr.Error())}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		httpReq.Header.Set("User-Agent", geminiCLIUserAgent)

		result, sendFailure := Send(ctx, m, httpReq, stream, scope)
		if sendFailure != nil {
			status := sendFailure.Passthrough.StatusCode
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				fresh, refreshErr := oauth.ForceRefresh(ctx, p.pool, entry, p.endpoint(), m.Proxy)
				if refreshErr != nil {
					return nil, refreshFailure(scope, refreshErr)
				}
				httpReq, _ = http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader(body))
				httpReq.Header.Set("Content-Type", "application/json")
				httpReq.Header.Set("Authorization", "Bearer "+fresh.AccessToken)
				httpReq.Header.Set("User-Agent", geminiCLIUserAgent)
				if result, sendFailure = Send(ctx, m, httpReq, stream, scope); sendFailure != nil {
					return nil, deadOnAuth(sendFailure)
				}
			} else {
				return nil, sendFailure
			}
		}

		result.CredentialID = entry.ID
		result.FrameFilter = unwrapCloudcodeFrame
		if !stream && len(result.Body) > 0 {
			result.Body = unwrapCloudcodeFrame(result.Body)
		}
		result.RecordMeta = RecordMeta{
			Operation: m.ProviderName + "." + req.Op.String(),
			Model:     m.Model,
			Method:    http.MethodPost,
			Path:      path,
			Query:     query,
			Headers:   httpReq.Header,
			Body:      body,
		}
		return result, nil
	})
}

// ensureProject resolves and persists the cloudaicompanion project id the
// first time a credential is used.
func (p *geminiCLIProvider) ensureProject(ctx context.Context, m *meta.Meta, entry pool.Entry, accessToken string, scope pool.Scope) (string, *pool.AttemptFailure) {
	if entry.Secret.ProjectID != "" {
		return entry.Secret.ProjectID, nil
	}
	baseURL := m.ConfigString("base_url", geminiCLIDefaultBaseURL)
	project, err := oauth.DiscoverProjectID(ctx, baseURL, accessToken, geminiCLIUserAgent, m.Proxy)
	if err != nil {
		return "", &pool.AttemptFailure{
			Passthrough: relaymodel.ServiceUnavailable("project discovery failed"),
			Mark:        pool.TransientMark(scope, 0, "project discovery failed: "+err.Error()),
		}
	}
	secret := entry.Secret
	secret.ProjectID = project
	if err := model.UpdateCredentialSecret(entry.ID, secret); err != nil {
		logger.Logger.Error("persist project id failed", zap.Int("credential", entry.ID), zap.Error(err))
	}
	p.pool.UpdateEntrySecret(entry.ID, secret)
	return project, nil
}

func googleOAuthStart(providerName, clientID, oauthScope string, m *meta.Meta) (*Result, *relaymodel.PassthroughError) {
	redirectURI := m.ConfigString("redirect_uri", "http://localhost:8085/oauth2callback")
	state := oauth.PutState(oauth.AuthState{Provider: providerName, RedirectURI: redirectURI})
	body := mustMarshal(map[string]string{
		"auth_url": oauth.GoogleAuthorizeURL(clientID, oauthScope, redirectURI, state),
		"state":    state,
	})
	return jsonResult(body), nil
}

func googleOAuthCallback(ctx context.Context, providerName, clientID, clientSecret, baseURL, userAgent string,
	m *meta.Meta, req *Request,
) (*Result, *relaymodel.PassthroughError) {
	state, ok := oauth.ConsumeState(req.Query.Get("state"))
	if !ok || state.Provider != providerName {
		return nil, relaymodel.BadRequestf("unknown or expired oauth state")
	}
	tokens, err := oauth.GoogleExchange(ctx, clientID, clientSecret, state.RedirectURI,
		req.Query.Get("code"), m.Proxy)
	if err != nil {
		return nil, relaymodel.BadRequestf("code exchange failed: %v", err)
	}
	project, _ := oauth.DiscoverProjectID(ctx, m.ConfigString("base_url", baseURL),
		tokens.AccessToken, userAgent, m.Proxy)
	credentialID, perr := insertOAuthCredential(m.ProviderId, tokens, project)
	if perr != nil {
		return nil, perr
	}
	return jsonResult(mustMarshal(map[string]any{"credential_id": credentialID})), nil
}
