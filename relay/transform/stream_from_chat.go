package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/common/random"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// chatToClaudeStream synthesizes the Claude event envelope from Chat
// Completions chunks.
type chatToClaudeStream struct {
	model      string
	messageID  string
	started    bool
	blockIndex int
	blockOpen  bool
	blockKind  string // text | tool_use
	toolIndex  map[int]int // chat tool index -> claude block index
	usage      claude.Usage
	stop       string
	ended      bool
}

func newChatToClaudeStream(model string) *chatToClaudeStream {
	return &chatToClaudeStream{
		model:     model,
		messageID: "msg_" + random.GetUUID(),
		toolIndex: map[int]int{},
		stop:      claude.StopReasonEndTurn,
	}
}

func (s *chatToClaudeStream) start() []byte {
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

func (s *chatToClaudeStream) closeBlock() []byte {
	idx := s.blockIndex
	s.blockOpen = false
	s.blockIndex++
	return claudeEventFrame(&claude.StreamEvent{Type: claude.EventContentBlockStop, Index: &idx})
}

func (s *chatToClaudeStream) Next(data []byte) [][]byte {
	var chunk openai.ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.start())
	}
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.Usage != nil {
		if chunk.Usage.PromptTokens != nil {
			s.usage.InputTokens = chunk.Usage.PromptTokens
		}
		if chunk.Usage.CompletionTokens != nil {
			s.usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			if s.blockOpen && s.blockKind != "text" {
				frames = append(frames, s.closeBlock())
			}
			if !s.blockOpen {
				idx := s.blockIndex
				frames = append(frames, claudeEventFrame(&claude.StreamEvent{
					Type:         claude.EventContentBlockStart,
					Index:        &idx,
					ContentBlock: &claude.ContentBlock{Type: "text", Text: ""},
				}))
				s.blockOpen = true
				s.blockKind = "text"
			}
			idx := s.blockIndex
			frames = append(frames, claudeEventFrame(&claude.StreamEvent{
				Type:  claude.EventContentBlockDelta,
				Index: &idx,
				Delta: &claude.StreamDelta{Type: claude.DeltaText, Text: *choice.Delta.Content},
			}))
		}
		for _, call := range choice.Delta.ToolCalls {
			chatIdx := 0
			if call.Index != nil {
				chatIdx = *call.Index
			}
			if call.Function.Name != "" {
				// New tool call opens a fresh block.
				if s.blockOpen {
					frames = append(frames, s.closeBlock())
				}
				idx := s.blockIndex
				s.toolIndex[chatIdx] = idx
				id := call.ID
				if id == "" {
					id = "toolu_" + random.GetUUID()
				}
				frames = append(frames, claudeEventFrame(&claude.StreamEvent{
					Type:  claude.EventContentBlockStart,
					Index: &idx,
					ContentBlock: &claude.ContentBlock{
						Type:  "tool_use",
						ID:    id,
						Name:  call.Function.Name,
						Input: json.RawMessage(`{}`),
					},
				}))
				s.blockOpen = true
				s.blockKind = "tool_use"
				s.stop = claude.StopReasonToolUse
			}
			if call.Function.Arguments != "" {
				idx := s.blockIndex
				if mapped, ok := s.toolIndex[chatIdx]; ok {
					idx = mapped
				}
				frames = append(frames, claudeEventFrame(&claude.StreamEvent{
					Type:  claude.EventContentBlockDelta,
					Index: &idx,
					Delta: &claude.StreamDelta{Type: claude.DeltaInputJSON, PartialJSON: call.Function.Arguments},
				}))
			}
		}
		if choice.FinishReason != nil {
			switch *choice.FinishReason {
			case openai.FinishReasonLength:
				s.stop = claude.StopReasonMaxTokens
			case openai.FinishReasonToolCalls:
				s.stop = claude.StopReasonToolUse
			}
		}
	}
	return frames
}

func (s *chatToClaudeStream) Finish() [][]byte {
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
	stop := s.stop
	frames = append(frames, claudeEventFrame(&claude.StreamEvent{
		Type:  claude.EventMessageDelta,
		Delta: &claude.StreamDelta{StopReason: &stop},
		Usage: &s.usage,
	}))
	frames = append(frames, claudeEventFrame(&claude.StreamEvent{Type: claude.EventMessageStop}))
	return frames
}

// chatToGeminiStream renders Chat Completions chunks as Gemini chunks.
type chatToGeminiStream struct {
	model      string
	responseID string
	usage      *gemini.UsageMetadata
	incomplete bool
	argsBuf    map[int]*gemini.FunctionCall
	ended      bool
}

func newChatToGeminiStream(model string) *chatToGeminiStream {
	return &chatToGeminiStream{
		model:      model,
		responseID: random.GetUUID(),
		argsBuf:    map[int]*gemini.FunctionCall{},
	}
}

func (s *chatToGeminiStream) emit(parts []gemini.Part, finish string) []byte {
	candidate := gemini.Candidate{Index: intPtr(0), FinishReason: finish}
	if len(parts) > 0 {
		candidate.Content = &gemini.Content{Role: "model", Parts: parts}
	}
	resp := &gemini.GenerateContentResponse{
		Candidates:   []gemini.Candidate{candidate},
		ModelVersion: s.model,
		ResponseID:   s.responseID,
	}
	if finish != "" {
		resp.UsageMetadata = s.usage
	}
	payload, _ := json.Marshal(resp)
	return Frame(payload)
}

// flushCalls emits buffered function calls once their arguments are whole.
func (s *chatToGeminiStream) flushCalls() [][]byte {
	var frames [][]byte
	for idx := 0; idx < len(s.argsBuf); idx++ {
		call, ok := s.argsBuf[idx]
		if !ok {
			continue
		}
		if !json.Valid(call.Args) {
			call.Args = json.RawMessage(`{}`)
		}
		frames = append(frames, s.emit([]gemini.Part{{FunctionCall: call}}, ""))
	}
	s.argsBuf = map[int]*gemini.FunctionCall{}
	return frames
}

func (s *chatToGeminiStream) Next(data []byte) [][]byte {
	var chunk openai.ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}
	var frames [][]byte
	if chunk.Usage != nil {
		s.usage = &gemini.UsageMetadata{
			PromptTokenCount:     chunk.Usage.PromptTokens,
			CandidatesTokenCount: chunk.Usage.CompletionTokens,
			TotalTokenCount:      chunk.Usage.TotalTokens,
		}
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			frames = append(frames, s.emit([]gemini.Part{{Text: *choice.Delta.Content}}, ""))
		}
		if choice.Delta.ReasoningContent != "" {
			frames = append(frames, s.emit([]gemini.Part{{Text: choice.Delta.ReasoningContent, Thought: true}}, ""))
		}
		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			buffered, ok := s.argsBuf[idx]
			if !ok {
				buffered = &gemini.FunctionCall{}
				s.argsBuf[idx] = buffered
			}
			if call.Function.Name != "" {
				buffered.Name = call.Function.Name
			}
			buffered.Args = append(buffered.Args, []byte(call.Function.Arguments)...)
		}
		if choice.FinishReason != nil {
			if *choice.FinishReason == openai.FinishReasonLength {
				s.incomplete = true
			}
			frames = append(frames, s.flushCalls()...)
			s.ended = true
			finish := gemini.FinishReasonStop
			if s.incomplete {
				finish = gemini.FinishReasonMaxTokens
			}
			frames = append(frames, s.emit(nil, finish))
		}
	}
	return frames
}

func (s *chatToGeminiStream) Finish() [][]byte {
	if s.ended {
		return nil
	}
	s.ended = true
	frames := s.flushCalls()
	frames = append(frames, s.emit(nil, gemini.FinishReasonStop))
	return frames
}

// chatToResponsesStream renders Chat Completions chunks as Responses API
// events.
type chatToResponsesStream struct {
	model    string
	response openai.Response
	itemID   string
	started  bool
	textBuf  string
	argsBuf  map[int]*openai.OutputItem
	done     bool
}

func newChatToResponsesStream(model string) *chatToResponsesStream {
	id := random.GetUUID()
	return &chatToResponsesStream{
		model:   model,
		itemID:  "msg_" + id,
		argsBuf: map[int]*openai.OutputItem{},
		response: openai.Response{
			ID:        "resp_" + id,
			Object:    "response",
			CreatedAt: time.Now().Unix(),
			Status:    "in_progress",
			Model:     model,
		},
	}
}

func (s *chatToResponsesStream) event(typ string, extra map[string]any) []byte {
	payload := map[string]any{"type": typ}
	for k, v := range extra {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	return FrameEvent(typ, raw)
}

func (s *chatToResponsesStream) Next(data []byte) [][]byte {
	var chunk openai.ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}
	var frames [][]byte
	if !s.started {
		s.started = true
		frames = append(frames, s.event(openai.RespEventCreated, map[string]any{"response": &s.response}))
	}
	if chunk.Usage != nil {
		s.response.Usage = &openai.ResponsesUsage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			s.textBuf += *choice.Delta.Content
			frames = append(frames, s.event(openai.RespEventOutputTextDelta, map[string]any{
				"item_id": s.itemID, "output_index": 0, "content_index": 0,
				"delta": *choice.Delta.Content,
			}))
		}
		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			item, ok := s.argsBuf[idx]
			if !ok {
				item = &openai.OutputItem{Type: "function_call", Status: "in_progress"}
				s.argsBuf[idx] = item
			}
			if call.ID != "" {
				item.CallID = call.ID
				item.ID = "fc_" + call.ID
			}
			if call.Function.Name != "" {
				item.Name = call.Function.Name
				frames = append(frames, s.event(openai.RespEventOutputItemAdded, map[string]any{
					"output_index": idx + 1, "item": item,
				}))
			}
			if call.Function.Arguments != "" {
				item.Arguments += call.Function.Arguments
				frames = append(frames, s.event(openai.RespEventFuncArgsDelta, map[string]any{
					"item_id": item.ID, "output_index": idx + 1,
					"delta": call.Function.Arguments,
				}))
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason == openai.FinishReasonLength {
			s.response.Status = "incomplete"
		}
	}
	return frames
}

func (s *chatToResponsesStream) Finish() [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.event(openai.RespEventCreated, map[string]any{"response": &s.response}))
	}
	if s.textBuf != "" {
		s.response.Output = append(s.response.Output, openai.OutputItem{
			Type:   "message",
			ID:     s.itemID,
			Role:   "assistant",
			Status: "completed",
			Content: []openai.OutputContent{{
				Type: "output_text",
				Text: s.textBuf,
			}},
		})
	}
	for idx := 0; idx < len(s.argsBuf)+1; idx++ {
		if item, ok := s.argsBuf[idx]; ok {
			item.Status = "completed"
			frames = append(frames, s.event(openai.RespEventOutputItemDone, map[string]any{
				"output_index": idx + 1, "item": item,
			}))
			s.response.Output = append(s.response.Output, *item)
		}
	}
	if s.response.Status == "in_progress" {
		s.response.Status = "completed"
	}
	typ := openai.RespEventCompleted
	if s.response.Status == "incomplete" {
		typ = openai.RespEventIncomplete
	}
	frames = append(frames, s.event(typ, map[string]any{"response": &s.response}))
	return frames
}
