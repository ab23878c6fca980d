package accumulate

import (
	"encoding/json"
	"strings"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// OutputAccumulator concatenates the serialized output ever seen across a
// stream. It exists only as a fallback signal for token counting when the
// upstream declines to report usage; exactness is not required, so non-text
// parts are appended in their JSON form.
type OutputAccumulator struct {
	kind dispatch.UsageKind
	buf  strings.Builder
}

func NewOutputAccumulator(kind dispatch.UsageKind) *OutputAccumulator {
	return &OutputAccumulator{kind: kind}
}

func (a *OutputAccumulator) Push(data []byte) {
	switch a.kind {
	case dispatch.UsageClaudeMessage:
		a.pushClaude(data)
	case dispatch.UsageOpenAIChat:
		a.pushOpenAIChat(data)
	case dispatch.UsageOpenAIResponses:
		a.pushOpenAIResponses(data)
	case dispatch.UsageGeminiGenerate:
		a.pushGemini(data)
	}
}

func (a *OutputAccumulator) String() string {
	return a.buf.String()
}

func (a *OutputAccumulator) pushClaude(data []byte) {
	event, err := claude.ParseStreamEvent(data)
	if err != nil || event.Type != claude.EventContentBlockDelta || event.Delta == nil {
		return
	}
	switch event.Delta.Type {
	case claude.DeltaText:
		a.buf.WriteString(event.Delta.Text)
	case claude.DeltaInputJSON:
		a.buf.WriteString(event.Delta.PartialJSON)
	}
}

func (a *OutputAccumulator) pushOpenAIChat(data []byte) {
	var chunk openai.ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != nil {
			a.buf.WriteString(*choice.Delta.Content)
		}
		if choice.Delta.Refusal != nil {
			a.buf.WriteString(*choice.Delta.Refusal)
		}
		if len(choice.Delta.ToolCalls) > 0 {
			if raw, err := json.Marshal(choice.Delta.ToolCalls); err == nil {
				a.buf.Write(raw)
			}
		}
	}
}

func (a *OutputAccumulator) pushOpenAIResponses(data []byte) {
	var event openai.ResponsesStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}
	switch event.Type {
	case openai.RespEventOutputTextDelta, openai.RespEventRefusalDelta,
		openai.RespEventFuncArgsDelta:
		a.buf.WriteString(event.Delta)
	}
}

func (a *OutputAccumulator) pushGemini(data []byte) {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				a.buf.WriteString(part.Text)
				continue
			}
			if raw, err := json.Marshal(part); err == nil && string(raw) != "{}" {
				a.buf.Write(raw)
			}
		}
	}
}
