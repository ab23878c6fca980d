package provider

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaymodel "github.com/dfft546/gproxy/relay/model"
)

func TestEnsureBetaValue(t *testing.T) {
	assert.Equal(t, oauthBeta, ensureBetaValue("", oauthBeta))
	assert.Equal(t, "a,b,"+oauthBeta, ensureBetaValue("a,b", oauthBeta))
	assert.Equal(t, "a, "+oauthBeta+" ,b", ensureBetaValue("a, "+oauthBeta+" ,b", oauthBeta))
}

func TestApplyClaudeCodeSystem(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4-5","messages":[]}`)

	out := applyClaudeCodeSystem(body, "curl/8.0")
	system := gjson.GetBytes(out, "system")
	require.True(t, system.IsArray())
	assert.Equal(t, claudeCodeSystemPrelude, system.Get("0.text").Str)

	// string system gets demoted behind the prelude
	body = []byte(`{"system":"be brief","messages":[]}`)
	out = applyClaudeCodeSystem(body, "curl/8.0")
	system = gjson.GetBytes(out, "system")
	assert.Equal(t, claudeCodeSystemPrelude, system.Get("0.text").Str)
	assert.Equal(t, "be brief", system.Get("1.text").Str)

	// claude-code callers keep their own system untouched
	out = applyClaudeCodeSystem(body, "claude-cli/2.1.27 (external, cli)")
	assert.Equal(t, "be brief", gjson.GetBytes(out, "system").Str)

	// idempotent when the prelude is already first
	once := applyClaudeCodeSystem([]byte(`{"messages":[]}`), "curl/8.0")
	twice := applyClaudeCodeSystem(once, "curl/8.0")
	assert.Equal(t, string(once), string(twice))
}

func TestClaude1MAttempts(t *testing.T) {
	assert.Equal(t, []bool{false}, claude1MAttempts("claude-opus-4-1", nil))
	assert.Equal(t, []bool{true, false}, claude1MAttempts("claude-sonnet-4-5", map[string]any{}))
	assert.Equal(t, []bool{true}, claude1MAttempts("claude-sonnet-4-5", map[string]any{metaKeyClaude1M: true}))
	assert.Equal(t, []bool{false}, claude1MAttempts("claude-sonnet-4-5", map[string]any{metaKeyClaude1M: false}))
}

func TestIs1MForbidden(t *testing.T) {
	assert.True(t, is1MForbidden(&relaymodel.PassthroughError{
		StatusCode: 400,
		Body:       []byte(`{"error":{"message":"The long context beta not available for this subscription"}}`),
	}))
	assert.True(t, is1MForbidden(&relaymodel.PassthroughError{
		StatusCode: 403,
		Body:       []byte(`{"error":{"message":"context-1m-2025-08-07 is not enabled"}}`),
	}))
	assert.False(t, is1MForbidden(&relaymodel.PassthroughError{
		StatusCode: 400,
		Body:       []byte(`{"error":{"message":"max_tokens required"}}`),
	}))
	assert.False(t, is1MForbidden(&relaymodel.PassthroughError{
		StatusCode: 500,
		Body:       []byte("long context beta not available"),
	}))
}

func TestRequestTypeFor(t *testing.T) {
	assert.Equal(t, "image_gen", requestTypeFor("gemini-2.5-flash-image"))
	assert.Equal(t, "agent", requestTypeFor("gemini-3-pro-preview"))
}

func TestWrapCloudcodeBody(t *testing.T) {
	wrapped := wrapCloudcodeBody("gemini-2.5-pro", "proj-1", []byte(`{"contents":[]}`))
	assert.Equal(t, "gemini-2.5-pro", gjson.GetBytes(wrapped, "model").Str)
	assert.Equal(t, "proj-1", gjson.GetBytes(wrapped, "project").Str)
	assert.True(t, gjson.GetBytes(wrapped, "request.contents").Exists())

	unwrapped := unwrapCloudcodeFrame([]byte(`{"response":{"candidates":[]}}`))
	assert.Equal(t, `{"candidates":[]}`, string(unwrapped))
	passthrough := unwrapCloudcodeFrame([]byte(`{"candidates":[]}`))
	assert.Equal(t, `{"candidates":[]}`, string(passthrough))
}
