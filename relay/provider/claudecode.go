package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/oauth"
	"github.com/dfft546/gproxy/relay/pool"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const (
	claudeCodeUA            = "claude-code/2.1.27"
	claudeCodeSystemPrelude = "You are a Claude agent, built on Anthropic's Claude Agent SDK."
	oauthBeta               = "oauth-2025-04-20"
	claudeBetaContext1M     = "context-1m-2025-08-07"
	metaKeyClaude1M         = "claude_1m"
)

var claudeCodeTable = dispatch.UniformTransform(dispatch.ProtocolClaude, dispatch.UsageClaudeMessage)

type claudeCodeProvider struct {
	pool *pool.Pool
}

func newClaudeCodeProvider(p *pool.Pool) *claudeCodeProvider {
	return &claudeCodeProvider{pool: p}
}

func (p *claudeCodeProvider) Name() string           { return NameClaudeCode }
func (p *claudeCodeProvider) Table() *dispatch.Table { return &claudeCodeTable }
func (p *claudeCodeProvider) Pool() *pool.Pool       { return p.pool }

func (p *claudeCodeProvider) Local(context.Context, *meta.Meta, *Request) ([]byte, *relaymodel.PassthroughError) {
	return nil, relaymodel.Unsupported()
}

func (p *claudeCodeProvider) endpoint() oauth.Endpoint {
	return oauth.Endpoint{
		TokenURL:  oauth.AnthropicTokenURL,
		ClientID:  oauth.AnthropicClientID,
		UserAgent: claudeCodeUA,
	}
}

func (p *claudeCodeProvider) Native(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	switch req.Op {
	case dispatch.OAuthStart:
		return p.oauthStart(req)
	case dispatch.OAuthCallback:
		return p.oauthCallback(ctx, m, req)
	case dispatch.Usage:
		return p.handleUsage(ctx, m, req)
	}

	method, path := claudePath(req.Op, req.ModelID)
	if method == "" {
		return nil, relaymodel.Unsupported()
	}
	stream := req.Op.IsStream() && !m.FakeStream
	scope := scopeFor(req.Op, m.Model)

	body := req.Body
	if req.Op == dispatch.ClaudeMessagesStream {
		body, _ = sjson.SetBytes(body, "stream", stream)
	}
	if req.Op == dispatch.ClaudeMessages || req.Op == dispatch.ClaudeMessagesStream ||
		req.Op == dispatch.ClaudeCountTokens {
		body = applyClaudeCodeSystem(body, m.UserAgent)
	}

	baseURL := m.ConfigString("base_url", claudeDefaultBaseURL)
	url := BuildURL(baseURL, path)

	return pool.Execute(p.pool, scope, func(entry pool.Entry) (*Result, *pool.AttemptFailure) {
		tokens, err := oauth.Ensure(ctx, p.pool, entry, p.endpoint(), m.Proxy)
		if err != nil {
			return nil, refreshFailure(scope, err)
		}

		attempts := claude1MAttempts(m.Model, entry.Meta)
		var lastFailure *pool.AttemptFailure
		for i, use1M := range attempts {
			httpReq, reqErr := http.NewRequestWithContext(ctx, method, url, bodyReader(body))
			if reqErr != nil {
				return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(reqErr.Error())}
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
			httpReq.Header.Set("User-Agent", claudeCodeUA)
			httpReq.Header.Set(headerVersion, clientHeaderOr(req.Header, headerVersion, defaultVersion))
			beta := ensureBetaValue(req.Header.Get(headerBeta), oauthBeta)
			if use1M {
				beta = ensureBetaValue(beta, claudeBetaContext1M)
			}
			httpReq.Header.Set(headerBeta, beta)

			result, failure := Send(ctx, m, httpReq, stream, scope)
			if failure == nil {
				result.CredentialID = entry.ID
				result.RecordMeta = RecordMeta{
					Operation: m.ProviderName + "." + req.Op.String(),
					Model:     m.Model,
					Method:    method,
					Path:      path,
					Headers:   httpReq.Header,
					Body:      body,
				}
				if use1M && entry.Meta[metaKeyClaude1M] != true {
					p.persist1MSupport(entry.ID, true)
				}
				return result, nil
			}

			status := failure.Passthrough.StatusCode
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				if retried, retryFailure := p.retryAfterRefresh(ctx, m, entry, method, url, body, req.Header, use1M, stream, scope); retryFailure == nil {
					retried.CredentialID = entry.ID
					return retried, nil
				} else if is1MForbidden(retryFailure.Passthrough) && use1M && i+1 < len(attempts) {
					p.persist1MSupport(entry.ID, false)
					lastFailure = retryFailure
					continue
				} else {
					return nil, deadOnAuth(retryFailure)
				}
			}
			if use1M && i+1 < len(attempts) && is1MForbidden(failure.Passthrough) {
				p.persist1MSupport(entry.ID, false)
				lastFailure = failure
				continue
			}
			return nil, failure
		}
		return nil, lastFailure
	})
}

// claude1MAttempts decides the beta attempt sequence for the 1M-context
// window: sonnet-4 models with unknown support try with it first and fall
// back without it.
func claude1MAttempts(modelName string, entryMeta map[string]any) []bool {
	if !isSonnet4Model(modelName) {
		return []bool{false}
	}
	switch entryMeta[metaKeyClaude1M] {
	case true:
		return []bool{true}
	case false:
		return []bool{false}
	default:
		return []bool{true, false}
	}
}

func isSonnet4Model(modelName string) bool {
	return strings.Contains(modelName, "sonnet-4")
}

// is1MForbidden matches the upstream rejection of the long-context beta.
func is1MForbidden(perr *relaymodel.PassthroughError) bool {
	if perr == nil {
		return false
	}
	if perr.StatusCode != http.StatusBadRequest && perr.StatusCode != http.StatusForbidden {
		return false
	}
	return bytes.Contains(perr.Body, []byte("long context beta not available")) ||
		bytes.Contains(perr.Body, []byte(claudeBetaContext1M))
}

func (p *claudeCodeProvider) persist1MSupport(credentialID int, supported bool) {
	if err := model.UpdateCredentialMetaKey(credentialID, metaKeyClaude1M, supported); err != nil {
		logger.Logger.Error("persist claude_1m failed", zap.Int("credential", credentialID), zap.Error(err))
	}
	p.pool.UpdateEntryMeta(credentialID, metaKeyClaude1M, supported)
}

// retryAfterRefresh force-refreshes the token and replays the request once.
func (p *claudeCodeProvider) retryAfterRefresh(ctx context.Context, m *meta.Meta, entry pool.Entry,
	method, url string, body []byte, clientHeader http.Header, use1M, stream bool, scope pool.Scope,
) (*Result, *pool.AttemptFailure) {
	tokens, err := oauth.ForceRefresh(ctx, p.pool, entry, p.endpoint(), m.Proxy)
	if err != nil {
		return nil, refreshFailure(scope, err)
	}
	httpReq, reqErr := http.NewRequestWithContext(ctx, method, url, bodyReader(body))
	if reqErr != nil {
		return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(reqErr.Error())}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	httpReq.Header.Set("User-Agent", claudeCodeUA)
	httpReq.Header.Set(headerVersion, clientHeaderOr(clientHeader, headerVersion, defaultVersion))
	beta := ensureBetaValue(clientHeader.Get(headerBeta), oauthBeta)
	if use1M {
		beta = ensureBetaValue(beta, claudeBetaContext1M)
	}
	httpReq.Header.Set(headerBeta, beta)

	result, failure := Send(ctx, m, httpReq, stream, scope)
	if failure == nil {
		result.RecordMeta = RecordMeta{
			Operation: m.ProviderName + ".retry",
			Model:     m.Model,
			Method:    method,
			Path:      url,
			Headers:   httpReq.Header,
			Body:      body,
		}
	}
	return result, failure
}

// deadOnAuth upgrades a post-refresh auth failure to a dead mark: the
// account is revoked, not merely stale.
func deadOnAuth(failure *pool.AttemptFailure) *pool.AttemptFailure {
	status := failure.Passthrough.StatusCode
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		failure.Mark = pool.DeadMark(pool.AllModels(), "auth rejected after refresh")
	}
	return failure
}

// refreshFailure classifies a refresh error: a rejected refresh token kills
// the credential, transient failures suspend it briefly.
func refreshFailure(scope pool.Scope, err error) *pool.AttemptFailure {
	if errors.Is(err, oauth.ErrRefreshRejected) {
		return &pool.AttemptFailure{
			Passthrough: relaymodel.Unauthorized("credential refresh rejected"),
			Mark:        pool.DeadMark(pool.AllModels(), "refresh token rejected"),
		}
	}
	return &pool.AttemptFailure{
		Passthrough: relaymodel.ServiceUnavailable("token refresh failed"),
		Mark:        pool.TransientMark(scope, 0, "refresh failed: "+err.Error()),
	}
}

// ensureBetaValue appends a beta value to a comma-separated beta header
// unless it is already present.
func ensureBetaValue(header, value string) string {
	if header == "" {
		return value
	}
	for _, part := range strings.Split(header, ",") {
		if strings.TrimSpace(part) == value {
			return header
		}
	}
	return header + "," + value
}

// applyClaudeCodeSystem prepends the fixed system prelude unless the caller
// already identifies as the Claude Code CLI.
func applyClaudeCodeSystem(body []byte, userAgent string) []byte {
	if strings.HasPrefix(userAgent, "claude-code/") || strings.HasPrefix(userAgent, "claude-cli/") {
		return body
	}
	prelude := map[string]any{"type": "text", "text": claudeCodeSystemPrelude}

	system := gjson.GetBytes(body, "system")
	var blocks []any
	switch {
	case !system.Exists():
		blocks = []any{prelude}
	case system.Type == gjson.String:
		if system.Str == claudeCodeSystemPrelude {
			return body
		}
		blocks = []any{prelude, map[string]any{"type": "text", "text": system.Str}}
	default:
		if first := system.Get("0.text"); first.Str == claudeCodeSystemPrelude {
			return body
		}
		blocks = append(blocks, prelude)
		var rest []any
		_ = json.Unmarshal([]byte(system.Raw), &rest)
		blocks = append(blocks, rest...)
	}
	out, err := sjson.SetBytes(body, "system", blocks)
	if err != nil {
		return body
	}
	return out
}

func (p *claudeCodeProvider) oauthStart(req *Request) (*Result, *relaymodel.PassthroughError) {
	verifier, challenge := oauth.NewCodeVerifier()
	state := oauth.PutState(oauth.AuthState{
		Provider:     NameClaudeCode,
		CodeVerifier: verifier,
		RedirectURI:  oauth.AnthropicRedirectURI,
	})
	body, _ := json.Marshal(map[string]string{
		"auth_url": oauth.AnthropicAuthorizeLink(state, challenge),
		"state":    state,
	})
	return jsonResult(body), nil
}

func (p *claudeCodeProvider) oauthCallback(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	stateKey := req.Query.Get("state")
	code := req.Query.Get("code")
	state, ok := oauth.ConsumeState(stateKey)
	if !ok || state.Provider != NameClaudeCode {
		return nil, relaymodel.BadRequestf("unknown or expired oauth state")
	}
	// claude.ai returns code#state when pasted manually.
	if idx := strings.IndexByte(code, '#'); idx >= 0 {
		code = code[:idx]
	}
	tokens, err := oauth.ExchangeCode(ctx, oauth.AnthropicTokenURL, oauth.AnthropicClientID,
		state.RedirectURI, code, state.CodeVerifier, m.Proxy)
	if err != nil {
		return nil, relaymodel.BadRequestf("code exchange failed: %v", err)
	}

	credential := &model.Credential{
		ProviderId: m.ProviderId,
		Name:       "oauth-" + stateKey[:8],
		Weight:     1,
		Enabled:    true,
	}
	if err := credential.SetSecret(model.CredentialSecret{
		Kind:         model.SecretOAuth,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}); err != nil {
		return nil, relaymodel.TransformFailed(m.TraceId)
	}
	if err := credential.Insert(); err != nil {
		return nil, relaymodel.ServiceUnavailable("credential insert failed")
	}

	body, _ := json.Marshal(map[string]any{"credential_id": credential.Id})
	return jsonResult(body), nil
}

func jsonResult(body []byte) *Result {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Result{Status: http.StatusOK, Header: header, Body: body}
}

// handleUsage probes the OAuth usage endpoint per credential. A
// credential_id query pins the probe; otherwise every pool entry is asked.
func (p *claudeCodeProvider) handleUsage(ctx context.Context, m *meta.Meta, req *Request) (*Result, *relaymodel.PassthroughError) {
	baseURL := m.ConfigString("base_url", claudeDefaultBaseURL)
	url := BuildURL(baseURL, "/api/oauth/usage")

	probe := func(entry pool.Entry) (json.RawMessage, *pool.AttemptFailure) {
		tokens, err := oauth.Ensure(ctx, p.pool, entry, p.endpoint(), m.Proxy)
		if err != nil {
			return nil, refreshFailure(pool.AllModels(), err)
		}
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return nil, &pool.AttemptFailure{Passthrough: relaymodel.ServiceUnavailable(reqErr.Error())}
		}
		httpReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		httpReq.Header.Set("User-Agent", claudeCodeUA)
		httpReq.Header.Set(headerBeta, oauthBeta)

		result, failure := Send(ctx, m, httpReq, false, pool.AllModels())
		if failure != nil {
			return nil, failure
		}
		return result.Body, nil
	}

	if idParam := req.Query.Get("credential_id"); idParam != "" {
		id, err := strconv.Atoi(idParam)
		if err != nil {
			return nil, relaymodel.BadRequestf("invalid credential_id")
		}
		payload, perr := pool.ExecuteForID(p.pool, id, pool.AllModels(), probe)
		if perr != nil {
			return nil, perr
		}
		return jsonResult(mustMarshal(map[string]any{strconv.Itoa(id): payload})), nil
	}

	out := map[string]any{}
	for _, entry := range p.pool.Snapshot().Entries {
		payload, perr := pool.ExecuteForID(p.pool, entry.ID, pool.AllModels(), probe)
		if perr != nil {
			out[strconv.Itoa(entry.ID)] = map[string]any{"error": perr.StatusCode}
			continue
		}
		out[strconv.Itoa(entry.ID)] = payload
	}
	return jsonResult(mustMarshal(out)), nil
}
