// Package controller orchestrates one relay request: dispatch lookup,
// protocol translation, the upstream call through the credential pool, and
// the streaming or buffered answer path.
package controller

import (
	"encoding/json"
	"net/http"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/monitor"
	"github.com/dfft546/gproxy/relay/accumulate"
	"github.com/dfft546/gproxy/relay/bridge"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/provider"
	"github.com/dfft546/gproxy/relay/transform"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

var (
	registry *provider.Registry
	recorder meta.Recorder
)

// Setup wires the relay to its provider registry and traffic sink.
func Setup(r *provider.Registry, rec meta.Recorder) {
	registry = r
	recorder = rec
}

// Registry exposes the provider registry to the admin plane for pool
// reloads and disallow inspection.
func Registry() *provider.Registry { return registry }

// Relay serves one client operation end to end.
func Relay(c *gin.Context, op dispatch.Operation, modelName, modelID string) {
	lg := gmw.GetLogger(c)

	value, exists := c.Get(ctxkey.ProviderModel)
	providerRow, ok := value.(*model.Provider)
	if !exists || !ok {
		writeError(c, nil, relaymodel.ServiceUnavailable("no provider selected"))
		return
	}

	var body []byte
	if c.Request.Method == http.MethodPost {
		raw, err := c.GetRawData()
		if err != nil {
			writeError(c, nil, relaymodel.BadRequestf("unreadable request body"))
			return
		}
		body = raw
	}

	// Model resolution: Gemini operations carry the model in the path,
	// the other protocols in the body.
	if modelName == "" {
		modelName = modelFromBody(body)
	}
	bare, fakeStream, antiTrunc := provider.StripModelPrefixes(modelName)

	m := meta.FromContext(c, providerRow, op, bare, recorder)
	m.FakeStream = fakeStream || antiTrunc
	m.AntiTruncation = antiTrunc
	if bare != modelName && len(body) > 0 && modelFromBody(body) != "" {
		body, _ = sjson.SetBytes(body, "model", bare)
	}

	downRow := &model.DownstreamTraffic{
		TraceId:        m.TraceId,
		Caller:         m.Caller,
		Operation:      op.String(),
		Model:          bare,
		RequestMethod:  c.Request.Method,
		RequestPath:    c.Request.URL.Path,
		RequestQuery:   c.Request.URL.RawQuery,
		RequestHeaders: provider.HeadersJSON(provider.RedactHeaders(c.Request.Header, m.RedactSensitive)),
		RequestBody:    string(body),
	}

	executor, perr := registry.Get(providerRow)
	if perr != nil {
		writeError(c, downRow, perr)
		return
	}

	entry := executor.Table().Lookup(op)
	monitor.RecordRelayRequest(m.ProviderName, op.String())
	start := time.Now()
	defer func() {
		monitor.RecordRelayResponse(m.ProviderName, op.String(), c.Writer.Status(), start)
	}()

	switch entry.Kind {
	case dispatch.KindUnsupported:
		writeError(c, downRow, relaymodel.Unsupported())

	case dispatch.KindLocal:
		answer, perr := executor.Local(c.Request.Context(), m, &provider.Request{
			Op: op, Body: body, Query: c.Request.URL.Query(), Header: c.Request.Header, ModelID: modelID,
		})
		if perr != nil {
			writeError(c, downRow, perr)
			return
		}
		writeJSON(c, downRow, m, answer)

	default:
		if perr := relayUpstream(c, m, executor, entry, op, body, modelID, downRow); perr != nil {
			lg.Warn("relay failed",
				zap.String("provider", m.ProviderName),
				zap.String("operation", op.String()),
				zap.Int("status", perr.StatusCode),
				zap.String("kind", string(perr.Kind)))
			writeError(c, downRow, perr)
		}
	}
}

func relayUpstream(c *gin.Context, m *meta.Meta, executor provider.Provider,
	entry dispatch.Entry, op dispatch.Operation, body []byte, modelID string,
	downRow *model.DownstreamTraffic,
) *relaymodel.PassthroughError {
	clientProto := op.Protocol()
	upstreamProto := clientProto
	targetOp := op
	upstreamBody := body

	if entry.Kind == dispatch.KindTransform {
		upstreamProto = entry.Target
		targetOp = op.GenerateEquivalent(entry.Target)
		translated, perr := transform.TranslateRequest(op, entry.Target, m.Model, body)
		if perr != nil {
			return perr
		}
		upstreamBody = translated
	}

	result, perr := executor.Native(c.Request.Context(), m, &provider.Request{
		Op:      targetOp,
		Body:    upstreamBody,
		Query:   c.Request.URL.Query(),
		Header:  c.Request.Header,
		ModelID: modelID,
	})
	if perr != nil {
		return perr
	}

	// Streaming path: hand the socket to the bridge with per-stream state.
	if result.Stream != nil {
		state := transform.NewStreamState(upstreamProto, clientProto, m.Model)
		bridge.Pipe(c, m, result, state, entry.Usage, downRow)
		return nil
	}

	// Buffered path. The anti-truncation prefix earns one continuation
	// retry when a Gemini-family answer stopped on its token ceiling.
	if m.AntiTruncation && upstreamProto == dispatch.ProtocolGemini && bridge.GeminiTruncated(result.Body) {
		if merged := continueTruncated(c, m, executor, targetOp, upstreamBody, result); merged != nil {
			result = merged
		}
	}

	usage := accumulate.UsageFromResponseBody(entry.Usage, result.Body)
	provider.RecordUpstream(m, result, usage)

	answer, perr := transform.TranslateResponse(op, upstreamProto, m.Model, result.Body)
	if perr != nil {
		return perr
	}

	if op.IsStream() {
		bridge.FakeStream(c, m, clientProto, answer, downRow)
		return nil
	}
	writeJSON(c, downRow, m, answer)
	return nil
}

// continueTruncated re-issues one Gemini call carrying the truncated answer
// and a continue instruction, then splices the two answers together.
func continueTruncated(c *gin.Context, m *meta.Meta, executor provider.Provider,
	targetOp dispatch.Operation, upstreamBody []byte, first *provider.Result,
) *provider.Result {
	prevText := geminiTextOf(first.Body)
	if prevText == "" {
		return nil
	}
	contBody, err := sjson.SetBytes(upstreamBody, "contents.-1", map[string]any{
		"role": "model", "parts": []map[string]any{{"text": prevText}},
	})
	if err != nil {
		return nil
	}
	contBody, err = sjson.SetBytes(contBody, "contents.-1", map[string]any{
		"role": "user", "parts": []map[string]any{{"text": "Continue exactly where you left off, without repeating anything."}},
	})
	if err != nil {
		return nil
	}

	second, perr := executor.Native(c.Request.Context(), m, &provider.Request{
		Op:     targetOp,
		Body:   contBody,
		Header: c.Request.Header,
	})
	if perr != nil || second.Stream != nil {
		return nil
	}
	merged, ok := mergeGeminiBodies(first.Body, second.Body)
	if !ok {
		return nil
	}
	second.Body = merged
	return second
}

func geminiTextOf(body []byte) string {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Candidates) == 0 {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text
}

// mergeGeminiBodies prefixes the second answer's first text part with the
// first answer's text, keeping the second response's metadata and usage.
func mergeGeminiBodies(first, second []byte) ([]byte, bool) {
	firstText := geminiTextOf(first)
	secondText := geminiTextOf(second)
	merged, err := sjson.SetBytes(second, "candidates.0.content.parts",
		[]map[string]any{{"text": firstText + secondText}})
	if err != nil {
		return nil, false
	}
	return merged, true
}

func modelFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}

func writeJSON(c *gin.Context, downRow *model.DownstreamTraffic, m *meta.Meta, body []byte) {
	c.Data(http.StatusOK, "application/json", body)
	if m.Recorder != nil && downRow != nil {
		downRow.ResponseStatus = http.StatusOK
		downRow.ResponseBody = string(body)
		m.Recorder.RecordDownstream(downRow)
	}
}

// writeError forwards a passthrough error verbatim: status, headers, body.
func writeError(c *gin.Context, downRow *model.DownstreamTraffic, perr *relaymodel.PassthroughError) {
	for k, vs := range perr.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	contentType := perr.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(perr.StatusCode, contentType, perr.Body)

	if recorder != nil && downRow != nil {
		downRow.ResponseStatus = perr.StatusCode
		downRow.ResponseBody = string(perr.Body)
		recorder.RecordDownstream(downRow)
	}
}
