package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/dfft546/gproxy/common/client"
	"github.com/dfft546/gproxy/common/config"
)

// Anthropic (claudecode) OAuth constants.
const (
	AnthropicClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	AnthropicAuthorizeURL = "https://claude.ai/oauth/authorize"
	AnthropicTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	AnthropicScope        = "org:create_api_key user:profile user:inference user:sessions:claude_code"
	AnthropicRedirectURI  = "https://console.anthropic.com/oauth/code/callback"
)

// OpenAI (codex) OAuth constants.
const (
	OpenAIClientID     = "app_EMoamEEZ73f0CkXaXp7hrann"
	OpenAIAuthorizeURL = "https://auth.openai.com/oauth/authorize"
	OpenAITokenURL     = "https://auth.openai.com/oauth/token"
	OpenAIScope        = "openid profile email offline_access"
)

// AnthropicAuthorizeLink builds the claudecode consent URL with PKCE.
func AnthropicAuthorizeLink(state, challenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", AnthropicClientID)
	q.Set("redirect_uri", AnthropicRedirectURI)
	q.Set("scope", AnthropicScope)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("code", "true")
	return AnthropicAuthorizeURL + "?" + q.Encode()
}

// OpenAIAuthorizeLink builds the codex consent URL with PKCE.
func OpenAIAuthorizeLink(state, challenge, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", OpenAIClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", OpenAIScope)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("id_token_add_organizations", "true")
	return OpenAIAuthorizeURL + "?" + q.Encode()
}

// ExchangeCode trades an authorization code (with PKCE verifier) for tokens
// at a vendor token endpoint.
func ExchangeCode(ctx context.Context, tokenURL, clientID, redirectURI, code, verifier, proxy string) (TokenSet, error) {
	payload := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"code":          code,
		"redirect_uri":  redirectURI,
		"code_verifier": verifier,
	}
	body, _ := json.Marshal(payload)

	ctx, cancel := context.WithTimeout(ctx, config.RefreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(string(body)))
	if err != nil {
		return TokenSet{}, errors.Wrap(err, "build exchange request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient, err := client.Get(proxy)
	if err != nil {
		return TokenSet{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return TokenSet{}, errors.Wrap(err, "call token endpoint")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyBytes))
	if resp.StatusCode != http.StatusOK {
		return TokenSet{}, errors.Errorf("code exchange status %d: %s", resp.StatusCode, raw)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return TokenSet{}, errors.Wrap(err, "decode token response")
	}
	if parsed.AccessToken == "" {
		return TokenSet{}, errors.New("token endpoint returned no access token")
	}
	expiresIn := parsed.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 3600
	}
	return TokenSet{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    nowUnix() + expiresIn,
	}, nil
}

func nowUnix() int64 { return time.Now().Unix() }
