// Package oauth implements the credential token lifecycle: authorize flows
// for the OAuth-backed providers, single-flight refresh, and Google project
// discovery.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dfft546/gproxy/common/config"
)

// AuthState is the short-lived server-side record linking /start and
// /callback. It is consumed exactly once.
type AuthState struct {
	Provider     string
	CodeVerifier string
	RedirectURI  string
}

var stateStore = gocache.New(config.OAuthStateTTL, config.OAuthStateTTL)

// PutState stores a state record under a fresh random key and returns it.
func PutState(state AuthState) string {
	key := randomToken(32)
	stateStore.Set(key, state, gocache.DefaultExpiration)
	return key
}

// ConsumeState fetches and deletes a state record; the second return is
// false for unknown, expired, or replayed keys.
func ConsumeState(key string) (AuthState, bool) {
	v, ok := stateStore.Get(key)
	if !ok {
		return AuthState{}, false
	}
	stateStore.Delete(key)
	return v.(AuthState), true
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// NewCodeVerifier returns a PKCE verifier and its S256 challenge.
func NewCodeVerifier() (verifier, challenge string) {
	verifier = randomToken(32)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}
