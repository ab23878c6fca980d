package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/common/random"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// responsesToChatStream renders a Responses API event stream as Chat
// Completions chunks.
type responsesToChatStream struct {
	model     string
	id        string
	created   int64
	usage     *openai.ChatUsage
	hasCalls  bool
	toolIndex map[string]int // item id -> tool_calls index
	sentRole  bool
	finished  bool
	done      bool
}

func newResponsesToChatStream(model string) *responsesToChatStream {
	return &responsesToChatStream{
		model:     model,
		id:        "chatcmpl-" + random.GetUUID(),
		created:   time.Now().Unix(),
		toolIndex: map[string]int{},
	}
}

func (s *responsesToChatStream) chunk(choices []openai.ChunkChoice, usage *openai.ChatUsage) []byte {
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

func (s *responsesToChatStream) Next(data []byte) [][]byte {
	var event openai.ResponsesStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
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
	switch event.Type {
	case openai.RespEventCreated, openai.RespEventInProgress:
		s.mergeUsage(event.Response)

	case openai.RespEventOutputTextDelta:
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChunkDelta{Content: strPtr(event.Delta)},
		}}, nil))

	case openai.RespEventRefusalDelta:
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChunkDelta{Refusal: strPtr(event.Delta)},
		}}, nil))

	case openai.RespEventOutputItemAdded:
		if event.Item != nil && event.Item.Type == "function_call" {
			s.hasCalls = true
			idx := len(s.toolIndex)
			s.toolIndex[event.Item.ID] = idx
			frames = append(frames, s.chunk([]openai.ChunkChoice{{
				Index: 0,
				Delta: openai.ChunkDelta{ToolCalls: []openai.ToolCall{{
					Index: intPtr(idx),
					ID:    event.Item.CallID,
					Type:  "function",
					Function: openai.FunctionCall{
						Name: event.Item.Name,
					},
				}}},
			}}, nil))
		}

	case openai.RespEventFuncArgsDelta:
		idx := 0
		if mapped, ok := s.toolIndex[event.ItemID]; ok {
			idx = mapped
		}
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChunkDelta{ToolCalls: []openai.ToolCall{{
				Index:    intPtr(idx),
				Function: openai.FunctionCall{Arguments: event.Delta},
			}}},
		}}, nil))

	case openai.RespEventCompleted, openai.RespEventFailed, openai.RespEventIncomplete:
		s.mergeUsage(event.Response)
		s.finished = true
		finish := openai.FinishReasonStop
		switch {
		case s.hasCalls:
			finish = openai.FinishReasonToolCalls
		case event.Type == openai.RespEventIncomplete:
			finish = openai.FinishReasonLength
		}
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index:        0,
			Delta:        openai.ChunkDelta{},
			FinishReason: &finish,
		}}, nil))
		if s.usage != nil {
			frames = append(frames, s.chunk(nil, s.usage))
		}
		frames = append(frames, DoneFrame())
		s.done = true
	}
	return frames
}

func (s *responsesToChatStream) mergeUsage(resp *openai.Response) {
	if resp == nil || resp.Usage == nil {
		return
	}
	s.usage = &openai.ChatUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if resp.Model != "" {
		s.model = resp.Model
	}
}

func (s *responsesToChatStream) Finish() [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	var frames [][]byte
	if !s.finished {
		finish := openai.FinishReasonStop
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index: 0, Delta: openai.ChunkDelta{}, FinishReason: &finish,
		}}, nil))
	}
	frames = append(frames, DoneFrame())
	return frames
}

// responsesToClaudeStream synthesizes the Claude event envelope from a
// Responses API stream.
type responsesToClaudeStream struct {
	model      string
	messageID  string
	started    bool
	blockIndex int
	blockOpen  bool
	toolItems  map[string]int // responses item id -> claude block index
	usage      claude.Usage
	stop       string
	ended      bool
}

func newResponsesToClaudeStream(model string) *responsesToClaudeStream {
	return &responsesToClaudeStream{
		model:     model,
		messageID: "msg_" + random.GetUUID(),
		toolItems: map[string]int{},
		stop:      claude.StopReasonEndTurn,
	}
}

func (s *responsesToClaudeStream) start() []byte {
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

func (s *responsesToClaudeStream) Next(data []byte) [][]byte {
	var event openai.ResponsesStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil
	}
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.start())
	}
	switch event.Type {
	case openai.RespEventCreated, openai.RespEventInProgress:
		s.mergeUsage(event.Response)

	case openai.RespEventOutputTextDelta:
		if !s.blockOpen {
			idx := s.blockIndex
			frames = append(frames, claudeEventFrame(&claude.StreamEvent{
				Type:         claude.EventContentBlockStart,
				Index:        &idx,
				ContentBlock: &claude.ContentBlock{Type: "text", Text: ""},
			}))
			s.blockOpen = true
		}
		idx := s.blockIndex
		frames = append(frames, claudeEventFrame(&claude.StreamEvent{
			Type:  claude.EventContentBlockDelta,
			Index: &idx,
			Delta: &claude.StreamDelta{Type: claude.DeltaText, Text: event.Delta},
		}))

	case openai.RespEventOutputItemAdded:
		if event.Item != nil && event.Item.Type == "function_call" {
			if s.blockOpen {
				idx := s.blockIndex
				frames = append(frames, claudeEventFrame(&claude.StreamEvent{Type: claude.EventContentBlockStop, Index: &idx}))
				s.blockOpen = false
				s.blockIndex++
			}
			idx := s.blockIndex
			s.toolItems[event.Item.ID] = idx
			frames = append(frames, claudeEventFrame(&claude.StreamEvent{
				Type:  claude.EventContentBlockStart,
				Index: &idx,
				ContentBlock: &claude.ContentBlock{
					Type:  "tool_use",
					ID:    event.Item.CallID,
					Name:  event.Item.Name,
					Input: json.RawMessage(`{}`),
				},
			}))
			s.blockOpen = true
			s.stop = claude.StopReasonToolUse
		}

	case openai.RespEventFuncArgsDelta:
		idx := s.blockIndex
		if mapped, ok := s.toolItems[event.ItemID]; ok {
			idx = mapped
		}
		frames = append(frames, claudeEventFrame(&claude.StreamEvent{
			Type:  claude.EventContentBlockDelta,
			Index: &idx,
			Delta: &claude.StreamDelta{Type: claude.DeltaInputJSON, PartialJSON: event.Delta},
		}))

	case openai.RespEventOutputItemDone:
		if s.blockOpen {
			idx := s.blockIndex
			frames = append(frames, claudeEventFrame(&claude.StreamEvent{Type: claude.EventContentBlockStop, Index: &idx}))
			s.blockOpen = false
			s.blockIndex++
		}

	case openai.RespEventCompleted, openai.RespEventFailed, openai.RespEventIncomplete:
		s.mergeUsage(event.Response)
		if event.Type == openai.RespEventIncomplete {
			s.stop = claude.StopReasonMaxTokens
		}
		frames = append(frames, s.finishFrames()...)
	}
	return frames
}

func (s *responsesToClaudeStream) mergeUsage(resp *openai.Response) {
	if resp == nil || resp.Usage == nil {
		return
	}
	if resp.Usage.InputTokens != nil {
		s.usage.InputTokens = resp.Usage.InputTokens
	}
	if resp.Usage.OutputTokens != nil {
		s.usage.OutputTokens = resp.Usage.OutputTokens
	}
}

func (s *responsesToClaudeStream) finishFrames() [][]byte {
	if s.ended {
		return nil
	}
	s.ended = true
	var frames [][]byte
	if s.blockOpen {
		idx := s.blockIndex
		frames = append(frames, claudeEventFrame(&claude.StreamEvent{Type: claude.EventContentBlockStop, Index: &idx}))
		s.blockOpen = false
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

func (s *responsesToClaudeStream) Finish() [][]byte {
	var frames [][]byte
	if !s.started {
		frames = append(frames, s.start())
	}
	frames = append(frames, s.finishFrames()...)
	return frames
}

// responsesToGeminiStream renders a Responses API stream as Gemini chunks.
type responsesToGeminiStream struct {
	model      string
	responseID string
	usage      *gemini.UsageMetadata
	callName   map[string]string // item id -> function name
	argsBuf    map[string]string
	incomplete bool
	ended      bool
}

func newResponsesToGeminiStream(model string) *responsesToGeminiStream {
	return &responsesToGeminiStream{
		model:      model,
		responseID: random.GetUUID(),
		callName:   map[string]string{},
		argsBuf:    map[string]string{},
	}
}

func (s *responsesToGeminiStream) emit(parts []gemini.Part, finish string) []byte {
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

func (s *responsesToGeminiStream) Next(data []byte) [][]byte {
	var event openai.ResponsesStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil
	}
	switch event.Type {
	case openai.RespEventCreated, openai.RespEventInProgress:
		s.mergeUsage(event.Response)
		return nil

	case openai.RespEventOutputTextDelta:
		return [][]byte{s.emit([]gemini.Part{{Text: event.Delta}}, "")}

	case openai.RespEventOutputItemAdded:
		if event.Item != nil && event.Item.Type == "function_call" {
			s.callName[event.Item.ID] = event.Item.Name
		}
		return nil

	case openai.RespEventFuncArgsDelta:
		s.argsBuf[event.ItemID] += event.Delta
		return nil

	case openai.RespEventOutputItemDone:
		if event.Item != nil && event.Item.Type == "function_call" {
			args := event.Item.Arguments
			if args == "" {
				args = s.argsBuf[event.Item.ID]
			}
			raw := json.RawMessage(args)
			if !json.Valid(raw) {
				raw = json.RawMessage(`{}`)
			}
			return [][]byte{s.emit([]gemini.Part{{FunctionCall: &gemini.FunctionCall{
				Name: event.Item.Name,
				Args: raw,
			}}}, "")}
		}
		return nil

	case openai.RespEventIncomplete:
		s.incomplete = true
		fallthrough
	case openai.RespEventCompleted, openai.RespEventFailed:
		s.mergeUsage(event.Response)
		s.ended = true
		finish := gemini.FinishReasonStop
		if s.incomplete {
			finish = gemini.FinishReasonMaxTokens
		}
		return [][]byte{s.emit(nil, finish)}
	}
	return nil
}

func (s *responsesToGeminiStream) mergeUsage(resp *openai.Response) {
	if resp == nil || resp.Usage == nil {
		return
	}
	s.usage = &gemini.UsageMetadata{
		PromptTokenCount:     resp.Usage.InputTokens,
		CandidatesTokenCount: resp.Usage.OutputTokens,
		TotalTokenCount:      resp.Usage.TotalTokens,
	}
}

func (s *responsesToGeminiStream) Finish() [][]byte {
	if s.ended {
		return nil
	}
	s.ended = true
	return [][]byte{s.emit(nil, gemini.FinishReasonStop)}
}
