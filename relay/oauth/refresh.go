package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dfft546/gproxy/common/client"
	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/pool"
)

// Endpoint describes one provider family's token endpoint.
type Endpoint struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// UserAgent is sent on refresh calls for providers that require a
	// specific client identity.
	UserAgent string
}

// TokenSet is the refreshed credential material.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// ErrRefreshRejected marks a 4xx from the token endpoint: the refresh token
// itself is invalid and the credential is dead.
var ErrRefreshRejected = errors.New("refresh token rejected")

// refreshGroup collapses concurrent refreshes per credential id into one
// in-flight call; every waiter observes the same result.
var refreshGroup singleflight.Group

// persistCredentialSecret is indirected so tests can run without a database.
var persistCredentialSecret = model.UpdateCredentialSecret

// Ensure returns a usable access token for the entry, refreshing proactively
// when expiry is within the skew window. The refreshed secret is persisted
// and written back to the pool snapshot before returning.
func Ensure(ctx context.Context, p *pool.Pool, entry pool.Entry, endpoint Endpoint, proxy string) (TokenSet, error) {
	secret := entry.Secret
	if secret.AccessToken != "" && secret.ExpiresAt > 0 {
		remaining := time.Until(time.Unix(secret.ExpiresAt, 0))
		if remaining > config.TokenRefreshSkew {
			return TokenSet{
				AccessToken:  secret.AccessToken,
				RefreshToken: secret.RefreshToken,
				ExpiresAt:    secret.ExpiresAt,
			}, nil
		}
	}
	return ForceRefresh(ctx, p, entry, endpoint, proxy)
}

// ForceRefresh performs (or joins) the single-flight refresh for the entry.
func ForceRefresh(ctx context.Context, p *pool.Pool, entry pool.Entry, endpoint Endpoint, proxy string) (TokenSet, error) {
	if entry.Secret.RefreshToken == "" {
		return TokenSet{}, errors.New("credential has no refresh token")
	}
	key := fmt.Sprintf("refresh:%d", entry.ID)
	v, err, _ := refreshGroup.Do(key, func() (any, error) {
		// Re-read the pool copy: a refresh that finished while we queued
		// already rotated the token.
		current := entry
		for _, e := range p.Snapshot().Entries {
			if e.ID == entry.ID {
				current = e
			}
		}
		if current.Secret.AccessToken != entry.Secret.AccessToken &&
			current.Secret.ExpiresAt > time.Now().Add(config.TokenRefreshSkew).Unix() {
			return TokenSet{
				AccessToken:  current.Secret.AccessToken,
				RefreshToken: current.Secret.RefreshToken,
				ExpiresAt:    current.Secret.ExpiresAt,
			}, nil
		}

		tokens, err := callTokenEndpoint(ctx, endpoint, current.Secret.RefreshToken, proxy)
		if err != nil {
			return TokenSet{}, err
		}

		secret := current.Secret
		secret.AccessToken = tokens.AccessToken
		secret.ExpiresAt = tokens.ExpiresAt
		if tokens.RefreshToken != "" {
			secret.RefreshToken = tokens.RefreshToken
		}
		tokens.RefreshToken = secret.RefreshToken

		if err := persistCredentialSecret(current.ID, secret); err != nil {
			logger.Logger.Error("persist refreshed secret failed",
				zap.Int("credential", current.ID), zap.Error(err))
		}
		p.UpdateEntrySecret(current.ID, secret)
		logger.Logger.Info("access token refreshed",
			zap.String("provider", p.Provider()), zap.Int("credential", current.ID))
		return tokens, nil
	})
	if err != nil {
		return TokenSet{}, err
	}
	return v.(TokenSet), nil
}

func callTokenEndpoint(ctx context.Context, endpoint Endpoint, refreshToken, proxy string) (TokenSet, error) {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     endpoint.ClientID,
	}
	if endpoint.ClientSecret != "" {
		payload["client_secret"] = endpoint.ClientSecret
	}
	body, _ := json.Marshal(payload)

	ctx, cancel := context.WithTimeout(ctx, config.RefreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TokenURL, strings.NewReader(string(body)))
	if err != nil {
		return TokenSet{}, errors.Wrap(err, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.UserAgent != "" {
		req.Header.Set("User-Agent", endpoint.UserAgent)
	}

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

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return TokenSet{}, errors.Wrapf(ErrRefreshRejected, "token endpoint status %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenSet{}, errors.Errorf("token endpoint status %d", resp.StatusCode)
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
		ExpiresAt:    time.Now().Unix() + expiresIn,
	}, nil
}
