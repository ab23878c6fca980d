package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dfft546/gproxy/common/client"
	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/pool"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// Result is the outcome of one successful upstream call. Exactly one of
// Body and Stream is set: buffered operations carry Body, 2xx streaming
// responses hand the socket to the bridge via Stream.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
	Stream io.ReadCloser

	CredentialID int
	RecordMeta   RecordMeta

	// FrameFilter unwraps provider envelopes around stream frames (the
	// cloudcode family wraps every chunk in {response: ...}). Nil means
	// frames pass through untouched.
	FrameFilter func([]byte) []byte
}

// RecordMeta describes the upstream request for traffic records.
type RecordMeta struct {
	Operation string
	Model     string
	Method    string
	Path      string
	Query     string
	Headers   http.Header
	Body      []byte
}

// BuildURL joins a base URL and an operation path, dropping a duplicated
// /v1 or /v1beta segment when the base already ends with one.
func BuildURL(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	for _, version := range []string{"/v1beta", "/v1"} {
		if strings.HasSuffix(base, version) && strings.HasPrefix(path, version+"/") {
			path = strings.TrimPrefix(path, version)
			break
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// RedactHeaders copies headers for recording, eliding credential-bearing
// values when the global redaction flag is on.
func RedactHeaders(h http.Header, redact bool) http.Header {
	out := http.Header{}
	for k, vs := range h {
		if redact {
			switch strings.ToLower(k) {
			case "authorization", "x-api-key", "x-goog-api-key", "cookie", "set-cookie":
				out.Set(k, "[redacted]")
				continue
			}
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

// HeadersJSON renders headers for traffic records.
func HeadersJSON(h http.Header) string {
	raw, _ := json.Marshal(h)
	return string(raw)
}

// Send issues one upstream HTTP call and classifies the response. Non-2xx
// responses come back as an AttemptFailure carrying the passthrough body
// and the disallow mark the failure earns.
func Send(ctx context.Context, m *meta.Meta, httpReq *http.Request, stream bool, scope pool.Scope) (*Result, *pool.AttemptFailure) {
	httpClient, err := client.Get(m.Proxy)
	if err != nil {
		return nil, &pool.AttemptFailure{
			Passthrough: relaymodel.ServiceUnavailable(err.Error()),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, config.UpstreamTimeout)
	resp, err := httpClient.Do(httpReq.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, &pool.AttemptFailure{
			Passthrough: relaymodel.ServiceUnavailable("upstream unreachable"),
			Mark:        pool.TransientMark(scope, config.SuspendDurationForNetwork, "network error: "+err.Error()),
		}
	}

	if resp.StatusCode/100 != 2 {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyBytes))
		return nil, classify(resp.StatusCode, resp.Header, body, scope)
	}

	result := &Result{Status: resp.StatusCode, Header: resp.Header}
	if stream {
		result.Stream = &cancelingBody{ReadCloser: resp.Body, cancel: cancel}
		return result, nil
	}
	defer cancel()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pool.AttemptFailure{
			Passthrough: relaymodel.ServiceUnavailable("upstream read failed"),
			Mark:        pool.TransientMark(scope, config.SuspendDurationForNetwork, "read error: "+err.Error()),
		}
	}
	result.Body = body
	return result, nil
}

// cancelingBody releases the request context when the stream is closed.
type cancelingBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelingBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

// classify maps a non-2xx upstream response to its disallow mark per the
// failure policy: auth and throttle failures suspend the credential,
// ordinary 4xx surface without rotation.
func classify(status int, header http.Header, body []byte, scope pool.Scope) *pool.AttemptFailure {
	passthrough := relaymodel.NewPassthrough(status, header, body)
	failure := &pool.AttemptFailure{Passthrough: passthrough}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		failure.Mark = pool.TransientMark(scope, 0, "upstream "+strconv.Itoa(status))
	case status == http.StatusTooManyRequests:
		failure.Mark = pool.TransientMark(scope, retryAfter(header), "upstream 429")
	case status >= 500:
		failure.Mark = pool.TransientMark(scope, config.SuspendDurationFor5XX, "upstream "+strconv.Itoa(status))
	}
	return failure
}

func retryAfter(header http.Header) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return config.SuspendDurationFor429
}

// RecordUpstream emits the upstream traffic event for a buffered response.
// Streaming responses are recorded by the bridge instead.
func RecordUpstream(m *meta.Meta, result *Result, usage *relaymodel.UsageSummary) {
	if m.Recorder == nil {
		return
	}
	rm := result.RecordMeta
	m.Recorder.RecordUpstream(&model.UpstreamTraffic{
		TraceId:         m.TraceId,
		ProviderId:      m.ProviderId,
		CredentialId:    result.CredentialID,
		Operation:       rm.Operation,
		Model:           rm.Model,
		RequestMethod:   rm.Method,
		RequestPath:     rm.Path,
		RequestQuery:    rm.Query,
		RequestHeaders:  HeadersJSON(RedactHeaders(rm.Headers, m.RedactSensitive)),
		RequestBody:     string(rm.Body),
		ResponseStatus:  result.Status,
		ResponseHeaders: HeadersJSON(RedactHeaders(result.Header, m.RedactSensitive)),
		ResponseBody:    string(result.Body),
	})
	if usage != nil && !usage.Empty() {
		m.Recorder.RecordUsage(&model.UpstreamUsage{
			TraceId:                  m.TraceId,
			ProviderId:               m.ProviderId,
			CredentialId:             result.CredentialID,
			Model:                    rm.Model,
			InputTokens:              relaymodel.Or(usage.InputTokens),
			OutputTokens:             relaymodel.Or(usage.OutputTokens),
			CacheReadInputTokens:     relaymodel.Or(usage.CacheReadInputTokens),
			CacheCreationInputTokens: relaymodel.Or(usage.CacheCreationInputTokens),
		})
	}
}

// Request is the native-protocol request handed to a provider executor.
type Request struct {
	Op    dispatch.Operation
	Body  []byte
	Query url.Values
	// Header carries the client headers providers forward (anthropic-version,
	// anthropic-beta).
	Header http.Header
	// ModelID is the path parameter of models-get operations.
	ModelID string
}
