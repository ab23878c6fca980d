package bridge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/provider"
	"github.com/dfft546/gproxy/relay/transform"
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

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	return c, w
}

const upstreamBody = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"claude-sonnet-4-5\",\"usage\":{\"input_tokens\":7}}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":1}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func pipeOnce(t *testing.T, rec *memRecorder, state transform.StreamState) *httptest.ResponseRecorder {
	t.Helper()
	c, w := testContext(t)
	m := &meta.Meta{
		TraceId: "t1", ProviderId: 1, ProviderName: "claude",
		Model: "claude-sonnet-4-5", Recorder: rec,
	}
	result := &provider.Result{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/event-stream"}},
		Stream: io.NopCloser(strings.NewReader(upstreamBody)),
		RecordMeta: provider.RecordMeta{
			Operation: "claude.claude.messages_stream",
			Model:     "claude-sonnet-4-5",
			Method:    http.MethodPost,
			Path:      "/v1/messages",
		},
		CredentialID: 3,
	}
	Pipe(c, m, result, state, dispatch.UsageClaudeMessage, &model.DownstreamTraffic{TraceId: "t1"})
	return w
}

// Property: the byte stream the recorder sees is exactly the byte stream
// the client got.
func TestPipeFanOutMatchesDownstream(t *testing.T) {
	rec := &memRecorder{}
	state := transform.NewStreamState(dispatch.ProtocolClaude, dispatch.ProtocolClaude, "claude-sonnet-4-5")
	w := pipeOnce(t, rec, state)

	require.Len(t, rec.downstream, 1)
	assert.Equal(t, w.Body.String(), rec.downstream[0].ResponseBody)
	assert.Equal(t, http.StatusOK, rec.downstream[0].ResponseStatus)
}

func TestPipeRecordsRawUpstreamAndUsage(t *testing.T) {
	rec := &memRecorder{}
	state := transform.NewStreamState(dispatch.ProtocolClaude, dispatch.ProtocolGemini, "claude-sonnet-4-5")
	w := pipeOnce(t, rec, state)

	// upstream record holds the raw Claude bytes even though the client got
	// Gemini frames
	require.Len(t, rec.upstream, 1)
	assert.Equal(t, upstreamBody, rec.upstream[0].ResponseBody)
	assert.Equal(t, 3, rec.upstream[0].CredentialId)
	assert.Contains(t, w.Body.String(), `"candidates"`)
	assert.NotContains(t, w.Body.String(), "message_start")

	require.Len(t, rec.usages, 1)
	assert.EqualValues(t, 7, rec.usages[0].InputTokens)
	assert.EqualValues(t, 1, rec.usages[0].OutputTokens)
}

func TestPipeStreamHeaders(t *testing.T) {
	rec := &memRecorder{}
	state := transform.NewStreamState(dispatch.ProtocolClaude, dispatch.ProtocolClaude, "claude-sonnet-4-5")
	w := pipeOnce(t, rec, state)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestFakeStreamClaude(t *testing.T) {
	rec := &memRecorder{}
	c, w := testContext(t)
	m := &meta.Meta{TraceId: "t2", Recorder: rec}
	body := []byte(`{"id":"msg_9","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"buffered"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)

	FakeStream(c, m, dispatch.ProtocolClaude, body, &model.DownstreamTraffic{TraceId: "t2"})

	out := w.Body.String()
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"} {
		assert.Contains(t, out, "event: "+event)
	}
	assert.Contains(t, out, `"text":"buffered"`)
	require.Len(t, rec.downstream, 1)
	assert.Equal(t, out, rec.downstream[0].ResponseBody)
}

func TestFakeStreamChatEndsWithDone(t *testing.T) {
	rec := &memRecorder{}
	c, w := testContext(t)
	m := &meta.Meta{Recorder: rec}
	body := []byte(`{"id":"c9","object":"chat.completion","created":1,"model":"gpt-5.2","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)

	FakeStream(c, m, dispatch.ProtocolOpenAIChat, body, &model.DownstreamTraffic{})

	out := w.Body.String()
	assert.Contains(t, out, `"content":"hi"`)
	assert.Contains(t, out, `"prompt_tokens":1`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestGeminiTruncated(t *testing.T) {
	assert.True(t, GeminiTruncated([]byte(`{"candidates":[{"finishReason":"MAX_TOKENS"}]}`)))
	assert.False(t, GeminiTruncated([]byte(`{"candidates":[{"finishReason":"STOP"}]}`)))
	assert.False(t, GeminiTruncated([]byte(`not json`)))
}
