package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/common/random"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// geminiToClaudeStream synthesizes the Claude Messages event envelope
// (message_start .. message_stop) from Gemini's flat candidate stream.
type geminiToClaudeStream struct {
	model      string
	messageID  string
	started    bool
	blockIndex int
	blockOpen  bool
	blockKind  string // text | thinking | tool_use
	usage      claude.Usage
	finish     string
	ended      bool
}

func newGeminiToClaudeStream(model string) *geminiToClaudeStream {
	return &geminiToClaudeStream{model: model, messageID: "msg_" + random.GetUUID()}
}

func claudeEventFrame(event *claude.StreamEvent) []byte {
	payload, _ := json.Marshal(event)
	return FrameEvent(event.Type, payload)
}

func (s *geminiToClaudeStream) start() []byte {
	s.started = true
	msg := &claude.Message{
		ID:      s.messageID,
		Type:    "message",
		Role:    "assistant",
		Model:   s.model,
		Content: []claude.ContentBlock{},
		Usage:   claude.Usage{InputTokens: int64Ptr(0), OutputTokens: int64Ptr(0)},
	}
	return claudeEventFrame(&claude.StreamEvent{Type: claude.EventMessageStart, Message: msg})
}

func (s *geminiToClaudeStream) openBlock(kind string, block *claude.ContentBlock) []byte {
	s.blockOpen = true
	s.blockKind = kind
	idx := s.blockIndex
	return claudeEventFrame(&claude.StreamEvent{
		Type:         claude.EventContentBlockStart,
		Index:        &idx,
		ContentBlock: block,
	})
}

func (s *geminiToClaudeStream) closeBlock() []byte {
	idx := s.blockIndex
	s.blockOpen = false
	s.blockIndex++
	return claudeEventFrame(&claude.StreamEvent{Type: claude.EventContentBlockStop, Index: &idx})
}

func (s *geminiToClaudeStream) delta(delta *claude.StreamDelta) []byte {
	idx := s.blockIndex
	return claudeEventFrame(&claude.StreamEvent{
		Type:  claude.EventContentBlockDelta,
		Index: &idx,
		Delta: delta,
	})
}

func (s *geminiToClaudeStream) Next(data []byte) [][]byte {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.start())
	}
	if meta := resp.UsageMetadata; meta != nil {
		incoming := claudeUsageFromGemini(meta)
		if incoming.InputTokens != nil {
			s.usage.InputTokens = incoming.InputTokens
		}
		if incoming.OutputTokens != nil {
			s.usage.OutputTokens = incoming.OutputTokens
		}
		if incoming.CacheReadInputTokens != nil {
			s.usage.CacheReadInputTokens = incoming.CacheReadInputTokens
		}
	}
	if len(resp.Candidates) == 0 {
		return frames
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			frames = append(frames, s.part(part)...)
		}
	}
	if candidate.FinishReason != "" {
		s.finish = candidate.FinishReason
	}
	return frames
}

func (s *geminiToClaudeStream) part(part gemini.Part) [][]byte {
	var frames [][]byte
	switch {
	case part.FunctionCall != nil:
		if s.blockOpen {
			frames = append(frames, s.closeBlock())
		}
		args := part.FunctionCall.Args
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		frames = append(frames, s.openBlock("tool_use", &claude.ContentBlock{
			Type:  "tool_use",
			ID:    "toolu_" + random.GetUUID(),
			Name:  part.FunctionCall.Name,
			Input: json.RawMessage(`{}`),
		}))
		frames = append(frames, s.delta(&claude.StreamDelta{
			Type:        claude.DeltaInputJSON,
			PartialJSON: string(args),
		}))
		frames = append(frames, s.closeBlock())
	case part.Thought:
		if s.blockOpen && s.blockKind != "thinking" {
			frames = append(frames, s.closeBlock())
		}
		if !s.blockOpen {
			frames = append(frames, s.openBlock("thinking", &claude.ContentBlock{Type: "thinking"}))
		}
		frames = append(frames, s.delta(&claude.StreamDelta{Type: claude.DeltaThinking, Thinking: part.Text}))
	case part.Text != "":
		if s.blockOpen && s.blockKind != "text" {
			frames = append(frames, s.closeBlock())
		}
		if !s.blockOpen {
			frames = append(frames, s.openBlock("text", &claude.ContentBlock{Type: "text", Text: ""}))
		}
		frames = append(frames, s.delta(&claude.StreamDelta{Type: claude.DeltaText, Text: part.Text}))
	}
	return frames
}

func (s *geminiToClaudeStream) Finish() [][]byte {
	if s.ended {
		return nil
	}
	s.ended = true
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.start())
	}
	if s.blockOpen {
		frames = append(frames, s.closeBlock())
	}
	stop := claudeStopReasonFromGemini(s.finish)
	frames = append(frames, claudeEventFrame(&claude.StreamEvent{
		Type:  claude.EventMessageDelta,
		Delta: &claude.StreamDelta{StopReason: &stop},
		Usage: &s.usage,
	}))
	frames = append(frames, claudeEventFrame(&claude.StreamEvent{Type: claude.EventMessageStop}))
	return frames
}

// geminiToChatStream renders a Gemini stream as Chat Completions chunks.
type geminiToChatStream struct {
	model    string
	id       string
	created  int64
	usage    *openai.ChatUsage
	hasCalls bool
	finish   string
	sentRole bool
	done     bool
}

func newGeminiToChatStream(model string) *geminiToChatStream {
	return &geminiToChatStream{
		model:   model,
		id:      "chatcmpl-" + random.GetUUID(),
		created: time.Now().Unix(),
	}
}

func (s *geminiToChatStream) chunk(choices []openai.ChunkChoice, usage *openai.ChatUsage) []byte {
	payload, _ := json.Marshal(&openai.ChatChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: choices,
		Usage:   usage,
	})
	return Frame(payload)
}

func (s *geminiToChatStream) Next(data []byte) [][]byte {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	var frames [][]byte
	if !s.sentRole {
		s.sentRole = true
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChunkDelta{Role: "assistant", Content: strPtr("")},
		}}, nil))
	}
	if meta := resp.UsageMetadata; meta != nil {
		s.usage = &openai.ChatUsage{
			PromptTokens:     meta.PromptTokenCount,
			CompletionTokens: meta.CandidatesTokenCount,
			TotalTokens:      meta.TotalTokenCount,
		}
	}
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					s.hasCalls = true
					args := "{}"
					if len(part.FunctionCall.Args) > 0 {
						args = string(part.FunctionCall.Args)
					}
					frames = append(frames, s.chunk([]openai.ChunkChoice{{
						Index: 0,
						Delta: openai.ChunkDelta{ToolCalls: []openai.ToolCall{{
							Index: intPtr(0),
							ID:    "call_" + random.GetUUID(),
							Type:  "function",
							Function: openai.FunctionCall{
								Name:      part.FunctionCall.Name,
								Arguments: args,
							},
						}}},
					}}, nil))
				case part.Thought:
					frames = append(frames, s.chunk([]openai.ChunkChoice{{
						Index: 0,
						Delta: openai.ChunkDelta{ReasoningContent: part.Text},
					}}, nil))
				case part.Text != "":
					frames = append(frames, s.chunk([]openai.ChunkChoice{{
						Index: 0,
						Delta: openai.ChunkDelta{Content: strPtr(part.Text)},
					}}, nil))
				}
			}
		}
		if candidate.FinishReason != "" {
			s.finish = candidate.FinishReason
		}
	}
	return frames
}

func (s *geminiToChatStream) Finish() [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	finish := chatFinishReasonFromGemini(s.finish, s.hasCalls)
	frames := [][]byte{s.chunk([]openai.ChunkChoice{{
		Index:        0,
		Delta:        openai.ChunkDelta{},
		FinishReason: &finish,
	}}, nil)}
	if s.usage != nil {
		frames = append(frames, s.chunk(nil, s.usage))
	}
	frames = append(frames, DoneFrame())
	return frames
}

// geminiToResponsesStream renders a Gemini stream as Responses API events.
type geminiToResponsesStream struct {
	model    string
	response openai.Response
	itemID   string
	started  bool
	textBuf  string
	done     bool
}

func newGeminiToResponsesStream(model string) *geminiToResponsesStream {
	id := random.GetUUID()
	return &geminiToResponsesStream{
		model:  model,
		itemID: "msg_" + id,
		response: openai.Response{
			ID:        "resp_" + id,
			Object:    "response",
			CreatedAt: time.Now().Unix(),
			Status:    "in_progress",
			Model:     model,
		},
	}
}

func (s *geminiToResponsesStream) event(typ string, extra map[string]any) []byte {
	payload := map[string]any{"type": typ}
	for k, v := range extra {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	return FrameEvent(typ, raw)
}

func (s *geminiToResponsesStream) Next(data []byte) [][]byte {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	var frames [][]byte
	if !s.started {
		s.started = true
		frames = append(frames, s.event(openai.RespEventCreated, map[string]any{"response": &s.response}))
	}
	if meta := resp.UsageMetadata; meta != nil {
		s.response.Usage = &openai.ResponsesUsage{
			InputTokens:  meta.PromptTokenCount,
			OutputTokens: meta.CandidatesTokenCount,
			TotalTokens:  meta.TotalTokenCount,
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := "{}"
				if len(part.FunctionCall.Args) > 0 {
					args = string(part.FunctionCall.Args)
				}
				callID := "call_" + random.GetUUID()
				item := &openai.OutputItem{
					Type:      "function_call",
					ID:        "fc_" + callID,
					CallID:    callID,
					Name:      part.FunctionCall.Name,
					Arguments: args,
					Status:    "completed",
				}
				frames = append(frames,
					s.event(openai.RespEventOutputItemAdded, map[string]any{"output_index": len(s.response.Output), "item": item}),
					s.event(openai.RespEventOutputItemDone, map[string]any{"output_index": len(s.response.Output), "item": item}))
				s.response.Output = append(s.response.Output, *item)
			case part.Thought:
			case part.Text != "":
				s.textBuf += part.Text
				frames = append(frames, s.event(openai.RespEventOutputTextDelta, map[string]any{
					"item_id": s.itemID, "output_index": 0, "content_index": 0,
					"delta": part.Text,
				}))
			}
		}
	}
	return frames
}

func (s *geminiToResponsesStream) Finish() [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.event(openai.RespEventCreated, map[string]any{"response": &s.response}))
	}
	if s.textBuf != "" {
		s.response.Output = append([]openai.OutputItem{{
			Type:   "message",
			ID:     s.itemID,
			Role:   "assistant",
			Status: "completed",
			Content: []openai.OutputContent{{
				Type: "output_text",
				Text: s.textBuf,
			}},
		}}, s.response.Output...)
	}
	s.response.Status = "completed"
	frames = append(frames, s.event(openai.RespEventCompleted, map[string]any{"response": &s.response}))
	return frames
}
