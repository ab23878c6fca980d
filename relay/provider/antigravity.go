package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/dfft546/gproxy/common/helper"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/oauth"
	"github.com/dfft546/gproxy/relay/pool"
	"github.com/dfft546/gproxy/relay/transform"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const (
	antigravityDefaultBaseURL = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	antigravityUserAgent      = "antigravity/1.15.8 (Windows; AMD64)"
)

var antigravityCatalog = []transform.ModelCatalogEntry{
	{ID: "gemini-3-pro-preview", DisplayName: "Gemini 3 Pro Preview", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-3-flash-preview", DisplayName: "Gemini 3 Flash Preview", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-2.5-flash-image", DisplayName: "Gemini 2.5 Flash Image", InputLimit: 32768, OutputLimit: 8192},
}

var antigravityTable = func() dispatch.Table {
	t := dispatch.UniformTransform(dispatch.ProtocolGemini, dispatch.UsageGeminiGenerate)
	for _, op := range []dispatch.Operation{
		dispatch.ClaudeModelsList, dispatch.ClaudeModelsGet,
		dispatch.GeminiModelsList, dispatch.GeminiModelsGet,
		dispatch.OpenAIModelsList, dispatch.OpenAIModelsGet,
		// Count-tokens is computed locally from text length: the sandbox
		// backend exposes no counting endpoint.
		dispatch.ClaudeCountTokens, dispatch.GeminiCountTokens, dispatch.OpenAIInputTokens,
	} {
		t[op] = dispatch.Local()
	}
	return t
}()

type antigravityProvider struct {
	pool *pool.Pool
}

func newAntigravityProvider(p *pool.Pool) *antigravityProvider {
	return &antigravityProvider{pool: p}
}

func (p *antigravityProvider) Name() string           { return NameAntigravity }
func (p *antigravityProvider) Table() *dispatch.Table { return &antigravityTable }
func (p *antigravityProvider) Pool() *pool.Pool       { return p.pool }

func (p *antigravityProvider) endpoint() oauth.Endpoint {
	return oauth.Endpoint{
		TokenURL:     oauth.GoogleEndpoint.TokenURL,
		ClientID:     oauth.AntigravityClientID,
		ClientSecret: oauth.AntigravityClientSecret,
		UserAgent:    antigravityUserAgent,
	}
}

func (p *antigravityProvider) Local(_ context.Context, m *meta.Meta, req *Request) ([]byte, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.ClaudeCountTokens, dispatch.GeminiCountTokens, dispatch.OpenAIInputTokens:
		return localCountTokens(req)
	}
	return localCatalog(req, antigravityCatalog)
}

// requestTypeFor mirrors the desktop client: image models are tagged
// image_gen, everything else agent.
func requestTypeFor(modelName string) string {
	if strings.Contains(modelName, "image") {
		return "image_gen"
	}
	return "agent"
}

func (p *antigravityProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.OAuthStart:
		return googleOAuthStart(NameAntigravity, oauth.AntigravityClientID, oauth.AntigravityScope, m)
	case dispatch.OAuthCallback:
		return googleOAuthCallback(ctx, NameAntigravity, oauth.AntigravityClientID,
			oauth.AntigravityClientSecret, antigravityDefaultBaseURL, antigravityUserAgent, m, req)
	case dispatch.Usage:
		return nil, relaymodel.Unsupported()
	}

	stream := req.Op.IsStream() && !m.FakeStream
	path, query := cloudcodePath(req.Op, stream)
	if path == "" {
		return nil, relaymodel.Unsupported()
	}
	scope := scopeFor(req.Op, m.Model)

	baseURL := m.ConfigString("base_url", antigravityDefaultBaseURL)
	url := BuildURL(baseURL, path)
	if query != "" {
		url += "?" + query
	}

	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		tokens, err := oauth.Ensure(ctx, p.pool, entry, p.endpoint(), m.Proxy)
		if err != nil {
			return nil, refreshFailure(scope, err)
		}
		project := entry.Secret.ProjectID

		send := func(accessToken, projectID string) (*Result, *pool.AttemptFailure) {
			body := wrapCloudcodeBody(m.Model, projectID, req.Body)
			httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader(body))
			if reqErr != nil {
				return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(reqErr.Error())}
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", "Bearer "+accessToken)
			httpReq.Header.Set("User-Agent", antigravityUserAgent)
			httpReq.Header.Set("requestid", helper.GenRequestId())
			httpReq.Header.Set("requesttype", requestTypeFor(m.Model))

			result, failure := Send(ctx, m, httpReq, stream, scope)
			if failure == nil {
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
			}
			return result, failure
		}

		result, failure := send(tokens.AccessToken, project)
		if failure == nil {
			return result, nil
		}

		switch failure.Passthrough.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			fresh, refreshErr := oauth.ForceRefresh(ctx, p.pool, entry, p.endpoint(), m.Proxy)
			if refreshErr != nil {
				return nil, refreshFailure(scope, refreshErr)
			}
			if result, failure = send(fresh.AccessToken, project); failure != nil {
				return nil, deadOnAuth(failure)
			}
			return result, nil
		case http.StatusNotFound:
			// A stale project id 404s the generate call: rediscover once and
			// retry with the updated credential.
			discovered, discoverErr := oauth.DiscoverProjectID(ctx, baseURL, tokens.AccessToken, antigravityUserAgent, m.Proxy)
			if discoverErr != nil || discovered == "" || discovered == project {
				return nil, failure
			}
			secret := entry.Secret
			secret.ProjectID = discovered
			_ = persistSecret(p.pool, entry.ID, secret)
			if result, failure = send(tokens.AccessToken, discovered); failure != nil {
				return nil, failure
			}
			return result, nil
		default:
			return nil, failure
		}
	})
}
