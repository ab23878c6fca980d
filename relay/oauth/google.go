package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	"golang.org/x/oauth2"

	"github.com/dfft546/gproxy/common/client"
	"github.com/dfft546/gproxy/common/config"
)

// Google OAuth endpoints shared by the geminicli and antigravity providers.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

const (
	AntigravityClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	AntigravityClientSecret = "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"
	AntigravityScope        = "https://www.googleapis.com/auth/cloud-platform https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile https://www.googleapis.com/auth/cclog https://www.googleapis.com/auth/experimentsandconfigs"

	GeminiCLIScope = "https://www.googleapis.com/auth/cloud-platform https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/userinfo.profile"
)

// GoogleAuthorizeURL builds the consent URL for a Google-backed provider.
func GoogleAuthorizeURL(clientID, scope, redirectURI, state string) string {
	cfg := oauth2.Config{
		ClientID:    clientID,
		Endpoint:    GoogleEndpoint,
		RedirectURL: redirectURI,
		Scopes:      strings.Fields(scope),
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// GoogleExchange trades an authorization code for tokens.
func GoogleExchange(ctx context.Context, clientID, clientSecret, redirectURI, code, proxy string) (TokenSet, error) {
	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     GoogleEndpoint,
		RedirectURL:  redirectURI,
	}
	httpClient, err := client.Get(proxy)
	if err != nil {
		return TokenSet{}, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return TokenSet{}, errors.Wrap(err, "exchange authorization code")
	}
	return TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.Unix(),
	}, nil
}

// DiscoverProjectID resolves the cloudaicompanion project for a fresh
// access token: loadCodeAssist first, falling back to onboardUser when the
// account has no project yet.
func DiscoverProjectID(ctx context.Context, baseURL, accessToken, userAgent, proxy string) (string, error) {
	base := strings.TrimSuffix(baseURL, "/")
	if id, err := postProjectLookup(ctx, base+"/v1internal:loadCodeAssist",
		accessToken, userAgent, proxy,
		map[string]any{"metadata": map[string]any{"pluginType": "GEMINI"}}); err == nil && id != "" {
		return id, nil
	}
	id, err := postProjectLookup(ctx, base+"/v1internal:onboardUser",
		accessToken, userAgent, proxy,
		map[string]any{"tierId": "free-tier", "metadata": map[string]any{"pluginType": "GEMINI"}})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("no cloudaicompanion project in onboard response")
	}
	return id, nil
}

func postProjectLookup(ctx context.Context, url, accessToken, userAgent, proxy string, payload map[string]any) (string, error) {
	body, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(ctx, config.RefreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", errors.Wrap(err, "build project lookup request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	httpClient, err := client.Get(proxy)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call project lookup")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyBytes))
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("project lookup status %d: %s", resp.StatusCode, raw)
	}

	var parsed struct {
		CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
		Response                *struct {
			CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrap(err, "decode project lookup response")
	}
	project := parsed.CloudAICompanionProject
	if len(project) == 0 && parsed.Response != nil {
		project = parsed.Response.CloudAICompanionProject
	}
	return projectIDFrom(project), nil
}

// projectIDFrom accepts both the bare-string and {id: ...} shapes the
// endpoints return.
func projectIDFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
