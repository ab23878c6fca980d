// Package bridge pumps one upstream response stream to the downstream
// client while fanning every byte to asynchronous recorders. Transform
// state is owned by the generator loop and dies with the stream.
package bridge

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/accumulate"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/provider"
	"github.com/dfft546/gproxy/relay/sse"
	"github.com/dfft546/gproxy/relay/transform"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

const chunkSize = 4096

// recorderQueue is the buffer of the per-stream recorder channels; the
// recorders only append to memory, so the writers never stall long.
const recorderQueue = 256

// Pipe streams the upstream body to the client, translating frames through
// the per-stream state, and emits one upstream and one downstream traffic
// event when the stream ends. downRow arrives with its request fields
// prefilled; Pipe completes the response side.
func Pipe(c *gin.Context, m *meta.Meta, result *provider.Result,
	state transform.StreamState, usageKind dispatch.UsageKind,
	downRow *model.DownstreamTraffic,
) {
	defer result.Stream.Close()

	writeStreamHeaders(c)

	upCh := make(chan []byte, recorderQueue)
	downCh := make(chan []byte, recorderQueue)
	var wg sync.WaitGroup

	// Upstream recorder: raw bytes, per-frame usage, final traffic event.
	wg.Add(1)
	go func() {
		defer wg.Done()
		recordUpstream(m, result, usageKind, upCh)
	}()

	// Downstream recorder: the bytes the client saw, in the same order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		var body strings.Builder
		for chunk := range downCh {
			body.Write(chunk)
		}
		if m.Recorder != nil {
			downRow.ResponseStatus = http.StatusOK
			downRow.ResponseBody = body.String()
			m.Recorder.RecordDownstream(downRow)
		}
	}()

	parser := sse.NewParser()
	buf := make([]byte, chunkSize)

	emit := func(frames [][]byte) bool {
		for _, frame := range frames {
			if _, err := c.Writer.Write(frame); err != nil {
				return false
			}
			downCh <- append([]byte(nil), frame...)
		}
		c.Writer.Flush()
		return true
	}

	handleEvents := func(events []string) bool {
		for _, event := range events {
			if event == "" || event == "[DONE]" {
				continue
			}
			data := []byte(event)
			if result.FrameFilter != nil {
				data = result.FrameFilter(data)
			}
			if !emit(state.Next(data)) {
				return false
			}
		}
		return true
	}

	alive := true
	for alive {
		n, err := result.Stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			upCh <- chunk
			if !handleEvents(parser.Push(chunk)) {
				alive = false
				break
			}
		}
		if err != nil {
			// EOF and mid-stream failure look alike downstream: the stream
			// just ends, no error frame.
			if err != io.EOF {
				alive = false
			}
			break
		}
	}
	if alive {
		if handleEvents(parser.Finish()) {
			emit(state.Finish())
		}
	}

	close(upCh)
	close(downCh)
	wg.Wait()
}

func writeStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

// recordUpstream drains raw upstream bytes, re-parses them independently of
// the client loop, and emits the upstream traffic and usage events once the
// channel closes. Malformed frames stay in the recorded body verbatim.
func recordUpstream(m *meta.Meta, result *provider.Result, usageKind dispatch.UsageKind, upCh <-chan []byte) {
	parser := sse.NewParser()
	usage := accumulate.NewUsageAccumulator(usageKind)
	output := accumulate.NewOutputAccumulator(usageKind)
	var body strings.Builder

	consume := func(events []string) {
		for _, event := range events {
			if event == "" || event == "[DONE]" {
				continue
			}
			data := []byte(event)
			if result.FrameFilter != nil {
				data = result.FrameFilter(data)
			}
			usage.Push(data)
			output.Push(data)
		}
	}

	for chunk := range upCh {
		body.Write(chunk)
		consume(parser.Push(chunk))
	}
	consume(parser.Finish())

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
		RequestHeaders:  headersJSON(m, rm.Headers),
		RequestBody:     string(rm.Body),
		ResponseStatus:  result.Status,
		ResponseHeaders: headersJSON(m, result.Header),
		ResponseBody:    body.String(),
	})
	if final := usage.Finalize(); final != nil && !final.Empty() {
		m.Recorder.RecordUsage(&model.UpstreamUsage{
			TraceId:                  m.TraceId,
			ProviderId:               m.ProviderId,
			CredentialId:             result.CredentialID,
			Model:                    rm.Model,
			InputTokens:              relaymodel.Or(final.InputTokens),
			OutputTokens:             relaymodel.Or(final.OutputTokens),
			CacheReadInputTokens:     relaymodel.Or(final.CacheReadInputTokens),
			CacheCreationInputTokens: relaymodel.Or(final.CacheCreationInputTokens),
		})
	}
}

func headersJSON(m *meta.Meta, h http.Header) string {
	return provider.HeadersJSON(provider.RedactHeaders(h, m.RedactSensitive))
}
