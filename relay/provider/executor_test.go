package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/pool"
)

func TestBuildURL(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"https://api.anthropic.com", "/v1/messages", "https://api.anthropic.com/v1/messages"},
		{"https://api.anthropic.com/", "/v1/messages", "https://api.anthropic.com/v1/messages"},
		{"https://proxy.example.com/v1", "/v1/messages", "https://proxy.example.com/v1/messages"},
		{"https://proxy.example.com/v1beta", "/v1beta/models/m:generateContent", "https://proxy.example.com/v1beta/models/m:generateContent"},
		{"https://proxy.example.com/v1", "/v1beta/models", "https://proxy.example.com/v1/v1beta/models"},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, BuildURL(tc.base, tc.path), "%s + %s", tc.base, tc.path)
	}
}

func TestClassify(t *testing.T) {
	scope := pool.ModelScope("m")

	f := classify(http.StatusUnauthorized, http.Header{}, nil, scope)
	require.NotNil(t, f.Mark)
	assert.Equal(t, pool.Transient, f.Mark.Level)
	// duration zero: the credential sits out only the rest of this request
	assert.False(t, f.Mark.Until.After(time.Now().Add(time.Second)))

	header := http.Header{}
	header.Set("Retry-After", "30")
	f = classify(http.StatusTooManyRequests, header, nil, scope)
	require.NotNil(t, f.Mark)
	until := time.Until(*f.Mark.Until)
	assert.InDelta(t, 30, until.Seconds(), 2)

	f = classify(http.StatusTooManyRequests, http.Header{}, nil, scope)
	until = time.Until(*f.Mark.Until)
	assert.InDelta(t, config.SuspendDurationFor429.Seconds(), until.Seconds(), 2)

	f = classify(http.StatusBadGateway, http.Header{}, nil, scope)
	require.NotNil(t, f.Mark)
	until = time.Until(*f.Mark.Until)
	assert.InDelta(t, config.SuspendDurationFor5XX.Seconds(), until.Seconds(), 2)

	// plain 4xx: no mark, no rotation
	f = classify(http.StatusBadRequest, http.Header{}, []byte(`{"error":"bad"}`), scope)
	assert.Nil(t, f.Mark)
	assert.Equal(t, http.StatusBadRequest, f.Passthrough.StatusCode)
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("x-api-key", "sk-123")
	h.Set("Content-Type", "application/json")

	redacted := RedactHeaders(h, true)
	assert.Equal(t, "[redacted]", redacted.Get("Authorization"))
	assert.Equal(t, "[redacted]", redacted.Get("x-api-key"))
	assert.Equal(t, "application/json", redacted.Get("Content-Type"))

	plain := RedactHeaders(h, false)
	assert.Equal(t, "Bearer secret", plain.Get("Authorization"))
}

func TestStripModelPrefixes(t *testing.T) {
	bare, fake, anti := StripModelPrefixes("gemini-2.5-pro")
	assert.Equal(t, "gemini-2.5-pro", bare)
	assert.False(t, fake)
	assert.False(t, anti)

	bare, fake, anti = StripModelPrefixes("假流式/gemini-2.5-pro")
	assert.Equal(t, "gemini-2.5-pro", bare)
	assert.True(t, fake)
	assert.False(t, anti)

	bare, fake, anti = StripModelPrefixes("流式抗截断/假流式/gemini-2.5-pro")
	assert.Equal(t, "gemini-2.5-pro", bare)
	assert.True(t, fake)
	assert.True(t, anti)
}

func apiKeyEntries(n int) []pool.Entry {
	entries := make([]pool.Entry, n)
	for i := range entries {
		entries[i] = pool.Entry{
			ID:      i + 1,
			Weight:  1,
			Enabled: true,
			Secret:  model.CredentialSecret{Kind: model.SecretAPIKey, APIKey: "key"},
		}
	}
	return entries
}

func metaFor(name string, op dispatch.Operation, modelName, baseURL string) *meta.Meta {
	return &meta.Meta{
		TraceId:      "trace",
		Operation:    op,
		Model:        modelName,
		ProviderId:   1,
		ProviderName: name,
		ProviderConfig: map[string]any{
			"base_url": baseURL,
		},
	}
}

// Rotation scenario: first credential 429s with Retry-After, the pool marks
// it and the second credential answers.
func TestClaudeProviderRotatesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("x-api-key"))
		assert.Equal(t, defaultVersion, r.Header.Get("anthropic-version"))
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"ok"}],"model":"claude-sonnet-4-5","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer server.Close()

	p := newClaudeProvider(pool.New("claude", &pool.Snapshot{Entries: apiKeyEntries(2)}, nil))
	m := metaFor("claude", dispatch.ClaudeMessages, "claude-sonnet-4-5", server.URL)

	result, perr := p.Native(context.Background(), m, &Request{
		Op:     dispatch.ClaudeMessages,
		Body:   []byte(`{"model":"claude-sonnet-4-5","max_tokens":64,"messages":[{"role":"user","content":"hello"}]}`),
		Header: http.Header{},
	})
	require.Nil(t, perr)
	assert.EqualValues(t, 2, calls.Load())
	assert.Contains(t, string(result.Body), `"role":"assistant"`)

	marks := p.Pool().Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, pool.Transient, marks[0].Level)
	assert.Equal(t, "claude-sonnet-4-5", marks[0].Scope.Model)
	assert.InDelta(t, 30, time.Until(*marks[0].Until).Seconds(), 2)
}

func TestClaudeProviderSurfacesClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer server.Close()

	p := newClaudeProvider(pool.New("claude", &pool.Snapshot{Entries: apiKeyEntries(2)}, nil))
	m := metaFor("claude", dispatch.ClaudeMessages, "claude-sonnet-4-5", server.URL)

	_, perr := p.Native(context.Background(), m, &Request{
		Op:     dispatch.ClaudeMessages,
		Body:   []byte(`{}`),
		Header: http.Header{},
	})
	require.NotNil(t, perr)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	// no rotation on plain 4xx
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, p.Pool().Marks())
}
