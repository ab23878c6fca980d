package transform

import (
	"bytes"
	"encoding/json"

	"github.com/dfft546/gproxy/relay/dispatch"
)

// StreamState translates one upstream SSE stream into the client protocol.
// A fresh state is created per stream by NewStreamState and dropped at
// stream end; implementations are not safe for concurrent use and must
// never be shared across requests.
type StreamState interface {
	// Next consumes one upstream data payload and returns zero or more
	// downstream chunks, each already framed as `data: ...\n\n`.
	Next(data []byte) [][]byte
	// Finish flushes any synthesized trailing events.
	Finish() [][]byte
}

// Frame wraps a payload as one SSE record.
func Frame(payload []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(payload) + 8)
	b.WriteString("data: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return b.Bytes()
}

// FrameEvent wraps a payload as an SSE record with an explicit event field,
// the framing the Claude Messages stream uses.
func FrameEvent(event string, payload []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(event) + len(payload) + 16)
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return b.Bytes()
}

var doneFrame = []byte("data: [DONE]\n\n")

// DoneFrame returns the protocol terminator frame, shared by the OpenAI
// protocols; Claude and Gemini streams end without a sentinel.
func DoneFrame() []byte { return doneFrame }

// identityState re-frames upstream payloads unchanged, used when client and
// upstream speak the same protocol.
type identityState struct {
	claudeFraming bool
}

func (s *identityState) Next(data []byte) [][]byte {
	if s.claudeFraming {
		if event := eventTypeOf(data); event != "" {
			return [][]byte{FrameEvent(event, data)}
		}
	}
	return [][]byte{Frame(data)}
}

func (s *identityState) Finish() [][]byte { return nil }

// eventTypeOf peeks the `type` discriminator of a JSON payload without a
// full decode.
func eventTypeOf(data []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// NewStreamState builds the per-stream translation state for an upstream
// protocol feeding a client protocol. model names steer family-specific
// synthesis (Claude envelope ids, Gemini model version echoes).
func NewStreamState(upstream, client dispatch.Protocol, model string) StreamState {
	if upstream == client {
		return &identityState{claudeFraming: client == dispatch.ProtocolClaude}
	}
	switch upstream {
	case dispatch.ProtocolClaude:
		switch client {
		case dispatch.ProtocolGemini:
			return newClaudeToGeminiStream(model)
		case dispatch.ProtocolOpenAIChat:
			return newClaudeToChatStream(model)
		case dispatch.ProtocolOpenAIResponses:
			return newClaudeToResponsesStream(model)
		}
	case dispatch.ProtocolGemini:
		switch client {
		case dispatch.ProtocolClaude:
			return newGeminiToClaudeStream(model)
		case dispatch.ProtocolOpenAIChat:
			return newGeminiToChatStream(model)
		case dispatch.ProtocolOpenAIResponses:
			return newGeminiToResponsesStream(model)
		}
	case dispatch.ProtocolOpenAIResponses:
		switch client {
		case dispatch.ProtocolClaude:
			return newResponsesToClaudeStream(model)
		case dispatch.ProtocolGemini:
			return newResponsesToGeminiStream(model)
		case dispatch.ProtocolOpenAIChat:
			return newResponsesToChatStream(model)
		}
	case dispatch.ProtocolOpenAIChat:
		switch client {
		case dispatch.ProtocolClaude:
			return newChatToClaudeStream(model)
		case dispatch.ProtocolGemini:
			return newChatToGeminiStream(model)
		case dispatch.ProtocolOpenAIResponses:
			return newChatToResponsesStream(model)
		}
	}
	return &identityState{}
}
