package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/meta"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	"github.com/dfft546/gproxy/relay/transform"
)

// FakeStream delivers a buffered client-protocol response as a synthesized
// one-shot SSE stream, for 假流式/-prefixed models: the upstream call already
// completed, the client just asked for streaming framing.
func FakeStream(c *gin.Context, m *meta.Meta, clientProto dispatch.Protocol, body []byte,
	downRow *model.DownstreamTraffic,
) {
	writeStreamHeaders(c)

	var frames [][]byte
	switch clientProto {
	case dispatch.ProtocolClaude:
		frames = fakeClaudeFrames(body)
	case dispatch.ProtocolGemini:
		frames = [][]byte{transform.Frame(body)}
	case dispatch.ProtocolOpenAIChat:
		frames = fakeChatFrames(body)
	case dispatch.ProtocolOpenAIResponses:
		frames = fakeResponsesFrames(body)
	}

	var sent []byte
	for _, frame := range frames {
		if _, err := c.Writer.Write(frame); err != nil {
			break
		}
		sent = append(sent, frame...)
	}
	c.Writer.Flush()

	if m.Recorder != nil {
		downRow.ResponseStatus = http.StatusOK
		downRow.ResponseBody = string(sent)
		m.Recorder.RecordDownstream(downRow)
	}
}

// fakeClaudeFrames replays a buffered Claude message as its canonical event
// envelope.
func fakeClaudeFrames(body []byte) [][]byte {
	var msg claude.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return [][]byte{transform.Frame(body)}
	}

	frame := func(event *claude.StreamEvent) []byte {
		payload, _ := json.Marshal(event)
		return transform.FrameEvent(event.Type, payload)
	}

	head := msg
	head.Content = []claude.ContentBlock{}
	frames := [][]byte{frame(&claude.StreamEvent{Type: claude.EventMessageStart, Message: &head})}

	for i, block := range msg.Content {
		idx := i
		start := block
		var delta *claude.StreamDelta
		switch block.Type {
		case "text":
			start = claude.ContentBlock{Type: "text", Text: ""}
			delta = &claude.StreamDelta{Type: claude.DeltaText, Text: block.Text}
		case "thinking":
			start = claude.ContentBlock{Type: "thinking"}
			delta = &claude.StreamDelta{Type: claude.DeltaThinking, Thinking: block.Thinking}
		case "tool_use":
			args := string(block.Input)
			start = claude.ContentBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: json.RawMessage(`{}`)}
			delta = &claude.StreamDelta{Type: claude.DeltaInputJSON, PartialJSON: args}
		}
		frames = append(frames, frame(&claude.StreamEvent{
			Type: claude.EventContentBlockStart, Index: &idx, ContentBlock: &start,
		}))
		if delta != nil {
			frames = append(frames, frame(&claude.StreamEvent{
				Type: claude.EventContentBlockDelta, Index: &idx, Delta: delta,
			}))
		}
		frames = append(frames, frame(&claude.StreamEvent{Type: claude.EventContentBlockStop, Index: &idx}))
	}

	frames = append(frames, frame(&claude.StreamEvent{
		Type:  claude.EventMessageDelta,
		Delta: &claude.StreamDelta{StopReason: msg.StopReason, StopSequence: msg.StopSequence},
		Usage: &msg.Usage,
	}))
	frames = append(frames, frame(&claude.StreamEvent{Type: claude.EventMessageStop}))
	return frames
}

func fakeChatFrames(body []byte) [][]byte {
	var resp openai.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return [][]byte{transform.Frame(body), transform.DoneFrame()}
	}
	chunk := openai.ChatChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Created: resp.Created,
		Model:   resp.Model,
	}
	for _, choice := range resp.Choices {
		finish := choice.FinishReason
		chunk.Choices = append(chunk.Choices, openai.ChunkChoice{
			Index: choice.Index,
			Delta: openai.ChunkDelta{
				Role:             "assistant",
				Content:          choice.Message.Content,
				Refusal:          choice.Message.Refusal,
				ToolCalls:        choice.Message.ToolCalls,
				ReasoningContent: choice.Message.ReasoningContent,
			},
			FinishReason: &finish,
		})
	}
	payload, _ := json.Marshal(&chunk)
	frames := [][]byte{transform.Frame(payload)}
	if resp.Usage != nil {
		usageChunk := openai.ChatChunk{
			ID: resp.ID, Object: "chat.completion.chunk",
			Created: resp.Created, Model: resp.Model,
			Choices: []openai.ChunkChoice{}, Usage: resp.Usage,
		}
		usagePayload, _ := json.Marshal(&usageChunk)
		frames = append(frames, transform.Frame(usagePayload))
	}
	return append(frames, transform.DoneFrame())
}

func fakeResponsesFrames(body []byte) [][]byte {
	var resp openai.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return [][]byte{transform.Frame(body)}
	}
	event := func(typ string, payload map[string]any) []byte {
		payload["type"] = typ
		raw, _ := json.Marshal(payload)
		return transform.FrameEvent(typ, raw)
	}
	created := resp
	created.Status = "in_progress"
	frames := [][]byte{event(openai.RespEventCreated, map[string]any{"response": &created})}
	for i, item := range resp.Output {
		frames = append(frames,
			event(openai.RespEventOutputItemAdded, map[string]any{"output_index": i, "item": &item}),
			event(openai.RespEventOutputItemDone, map[string]any{"output_index": i, "item": &item}))
	}
	frames = append(frames, event(openai.RespEventCompleted, map[string]any{"response": &resp}))
	return frames
}

// GeminiTruncated reports whether a buffered Gemini response stopped on
// its token ceiling, for the anti-truncation continuation retry.
func GeminiTruncated(body []byte) bool {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == gemini.FinishReasonMaxTokens
}
