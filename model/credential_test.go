package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialSecretTaggedForms(t *testing.T) {
	row := &Credential{Id: 1}
	require.NoError(t, row.SetSecret(CredentialSecret{Kind: SecretAPIKey, APIKey: "sk-1"}))
	secret, err := row.Secret()
	require.NoError(t, err)
	assert.Equal(t, SecretAPIKey, secret.Kind)
	assert.Equal(t, "sk-1", secret.APIKey)
	assert.Empty(t, secret.AccessToken)

	require.NoError(t, row.SetSecret(CredentialSecret{
		Kind:         SecretOAuth,
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    1700000000,
		ProjectID:    "proj",
	}))
	secret, err = row.Secret()
	require.NoError(t, err)
	assert.Equal(t, SecretOAuth, secret.Kind)
	assert.Equal(t, "rt", secret.RefreshToken)
	assert.Equal(t, "proj", secret.ProjectID)
	// api-key fields of the other variant stay absent
	assert.NotContains(t, row.SecretJSON, "api_key")
}

func TestCredentialSecretMissing(t *testing.T) {
	row := &Credential{Id: 2}
	_, err := row.Secret()
	assert.Error(t, err)
}

func TestCredentialMetaDefaultsToEmpty(t *testing.T) {
	row := &Credential{Id: 3}
	assert.Empty(t, row.Meta())

	require.NoError(t, row.SetMeta(map[string]any{"claude_1m": false}))
	meta := row.Meta()
	assert.Equal(t, false, meta["claude_1m"])
}

func TestProviderConfigAccessors(t *testing.T) {
	row := &Provider{Id: 1, Name: "claude"}
	require.NoError(t, row.SetConfig(map[string]any{"base_url": "https://api.anthropic.com"}))
	assert.Equal(t, "https://api.anthropic.com", row.ConfigString("base_url", "fallback"))
	assert.Equal(t, "fallback", row.ConfigString("missing", "fallback"))

	empty := &Provider{Id: 2}
	assert.Equal(t, "fallback", empty.ConfigString("base_url", "fallback"))
}
