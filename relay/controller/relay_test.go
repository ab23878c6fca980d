package controller

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/pool"
	"github.com/dfft546/gproxy/relay/provider"
)

type memRecorder struct {
	mu         sync.Mutex
	downstream []*model.DownstreamTraffic
	upstream   []*model.UpstreamTraffic
	usages     []*model.UpstreamUsage
}

func (r *memRecorder) RecordDownstream(row *model.DownstreamTraffic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downstream = append(r.downstream, row)
}

func (r *memRecorder) RecordUpstream(row *model.UpstreamTraffic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream = append(r.upstream, row)
}

func (r *memRecorder) RecordUsage(row *model.UpstreamUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages = append(r.usages, row)
}

func setupRelay(t *testing.T) *memRecorder {
	t.Helper()
	rec := &memRecorder{}
	registry := provider.NewRegistry(nil, func(int) ([]pool.Entry, []pool.Mark, error) {
		return []pool.Entry{{
			ID: 1, Weight: 1, Enabled: true,
			Secret: model.CredentialSecret{Kind: model.SecretAPIKey, APIKey: "sk-test"},
		}}, nil, nil
	})
	Setup(registry, rec)
	t.Cleanup(func() { Setup(nil, nil) })
	return rec
}

func providerRow(name, baseURL string) *model.Provider {
	row := &model.Provider{Id: 1, Name: name, Enabled: true}
	_ = row.SetConfig(map[string]any{"base_url": baseURL})
	return row
}

func serve(t *testing.T, row *model.Provider, method, path string, body string,
	handler func(c *gin.Context),
) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(ctxkey.TraceId, "trace-1")
		c.Set(ctxkey.ProviderModel, row)
	})
	engine.Handle(method, path, handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	return w
}

const claudeMessageBody = `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hello there"}],"model":"claude-sonnet-4-5","stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":5}}`

// E1: Claude pass-through, non-streaming.
func TestClaudePassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(claudeMessageBody))
	}))
	defer upstream.Close()

	rec := setupRelay(t)
	row := providerRow("claude", upstream.URL)

	w := serve(t, row, http.MethodPost, "/v1/messages",
		`{"model":"claude-sonnet-4-5","max_tokens":64,"messages":[{"role":"user","content":"hello"}]}`,
		func(c *gin.Context) { Relay(c, dispatch.ClaudeMessages, "", "") })

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "assistant", resp.Role)
	require.NotEmpty(t, resp.Content)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Positive(t, resp.Usage.InputTokens)
	assert.Positive(t, resp.Usage.OutputTokens)

	require.Len(t, rec.upstream, 1)
	require.Len(t, rec.downstream, 1)
	require.Len(t, rec.usages, 1)
	assert.EqualValues(t, 12, rec.usages[0].InputTokens)
}

const claudeSSEBody = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"claude-sonnet-4-5\",\"usage\":{\"input_tokens\":9}}}\n\n" +
	"event: content_block_start\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"bonjour\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":3}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

// E2: Gemini client, Claude provider, streaming. Downstream frames are
// Gemini-shaped; the upstream record holds Claude-shaped frames.
func TestGeminiClientClaudeProviderStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(claudeSSEBody))
	}))
	defer upstream.Close()

	rec := setupRelay(t)
	row := providerRow("claude", upstream.URL)

	w := serve(t, row, http.MethodPost, "/v1beta/models/gemini-2.5-pro:streamGenerateContent",
		`{"contents":[{"role":"user","parts":[{"text":"salut"}]}]}`,
		func(c *gin.Context) { Relay(c, dispatch.GeminiGenerateStream, "gemini-2.5-pro", "") })

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, `"candidates"`)
	assert.Contains(t, out, `"text":"bonjour"`)
	assert.Contains(t, out, `"promptTokenCount":9`)
	assert.NotContains(t, out, "message_start")

	require.Len(t, rec.upstream, 1)
	assert.Contains(t, rec.upstream[0].ResponseBody, "message_start")
	require.Len(t, rec.usages, 1)
	assert.EqualValues(t, 9, rec.usages[0].InputTokens)
	assert.EqualValues(t, 3, rec.usages[0].OutputTokens)

	require.Len(t, rec.downstream, 1)
	assert.Equal(t, out, rec.downstream[0].ResponseBody)
}

// Unsupported dispatch entries synthesize a local 501.
func TestUnsupportedOperation(t *testing.T) {
	setupRelay(t)
	row := providerRow("claude", "http://unused")

	w := serve(t, row, http.MethodGet, "/oauth/claude/start", "",
		func(c *gin.Context) { Relay(c, dispatch.OAuthStart, "", "") })
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Contains(t, w.Body.String(), "non-native operation")
}

// Fake-stream prefix: buffered upstream call, synthesized SSE downstream.
func TestFakeStreamPrefix(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// the upstream call is buffered and sees the bare model
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, "claude-sonnet-4-5", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(claudeMessageBody))
	}))
	defer upstream.Close()

	setupRelay(t)
	row := providerRow("claude", upstream.URL)

	w := serve(t, row, http.MethodPost, "/v1/messages",
		`{"model":"假流式/claude-sonnet-4-5","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"hi"}]}`,
		func(c *gin.Context) { Relay(c, dispatch.ClaudeMessagesStream, "", "") })

	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, `"text":"hello there"`)
	assert.Contains(t, out, "event: message_stop")
}
