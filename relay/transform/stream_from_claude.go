package transform

import (
	"encoding/json"
	"time"

	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
)

// claudeToChatStream renders a Claude Messages stream as Chat Completions
// chunks. Tool-use blocks become tool_calls deltas keyed by the block index.
type claudeToChatStream struct {
	model     string
	id        string
	created   int64
	usage     *openai.ChatUsage
	toolIndex map[int]int // content block index -> tool_calls index
	nextTool  int
	sentRole  bool
	done      bool
}

func newClaudeToChatStream(model string) *claudeToChatStream {
	return &claudeToChatStream{
		model:     model,
		created:   time.Now().Unix(),
		toolIndex: map[int]int{},
	}
}

func (s *claudeToChatStream) chunk(choices []openai.ChunkChoice, usage *openai.ChatUsage) []byte {
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

func (s *claudeToChatStream) Next(data []byte) [][]byte {
	event, err := claude.ParseStreamEvent(data)
	if err != nil {
		return nil
	}
	switch event.Type {
	case claude.EventMessageStart:
		if event.Message != nil {
			s.id = "chatcmpl-" + event.Message.ID
			if event.Message.Model != "" {
				s.model = event.Message.Model
			}
			s.usage = chatUsageFromClaude(event.Message.Usage)
		}
		s.sentRole = true
		return [][]byte{s.chunk([]openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChunkDelta{Role: "assistant", Content: strPtr("")},
		}}, nil)}

	case claude.EventContentBlockStart:
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" || event.Index == nil {
			return nil
		}
		idx := s.nextTool
		s.nextTool++
		s.toolIndex[*event.Index] = idx
		return [][]byte{s.chunk([]openai.ChunkChoice{{
			Index: 0,
			Delta: openai.ChunkDelta{ToolCalls: []openai.ToolCall{{
				Index: intPtr(idx),
				ID:    event.ContentBlock.ID,
				Type:  "function",
				Function: openai.FunctionCall{
					Name:      event.ContentBlock.Name,
					Arguments: "",
				},
			}}},
		}}, nil)}

	case claude.EventContentBlockDelta:
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case claude.DeltaText:
			return [][]byte{s.chunk([]openai.ChunkChoice{{
				Index: 0,
				Delta: openai.ChunkDelta{Content: strPtr(event.Delta.Text)},
			}}, nil)}
		case claude.DeltaThinking:
			return [][]byte{s.chunk([]openai.ChunkChoice{{
				Index: 0,
				Delta: openai.ChunkDelta{ReasoningContent: event.Delta.Thinking},
			}}, nil)}
		case claude.DeltaInputJSON:
			idx := 0
			if event.Index != nil {
				if mapped, ok := s.toolIndex[*event.Index]; ok {
					idx = mapped
				}
			}
			return [][]byte{s.chunk([]openai.ChunkChoice{{
				Index: 0,
				Delta: openai.ChunkDelta{ToolCalls: []openai.ToolCall{{
					Index:    intPtr(idx),
					Function: openai.FunctionCall{Arguments: event.Delta.PartialJSON},
				}}},
			}}, nil)}
		}
		return nil

	case claude.EventMessageDelta:
		var frames [][]byte
		finish := openai.FinishReasonStop
		if event.Delta != nil {
			finish = chatFinishReasonFromClaude(event.Delta.StopReason)
		}
		if event.Usage != nil {
			incoming := chatUsageFromClaude(*event.Usage)
			if s.usage == nil {
				s.usage = incoming
			} else {
				if incoming.CompletionTokens != nil {
					s.usage.CompletionTokens = incoming.CompletionTokens
				}
				if incoming.PromptTokens != nil {
					s.usage.PromptTokens = incoming.PromptTokens
				}
			}
		}
		frames = append(frames, s.chunk([]openai.ChunkChoice{{
			Index:        0,
			Delta:        openai.ChunkDelta{},
			FinishReason: &finish,
		}}, nil))
		if s.usage != nil {
			if s.usage.PromptTokens != nil && s.usage.CompletionTokens != nil {
				s.usage.TotalTokens = int64Ptr(*s.usage.PromptTokens + *s.usage.CompletionTokens)
			}
			frames = append(frames, s.chunk(nil, s.usage))
		}
		return frames

	case claude.EventMessageStop:
		s.done = true
		return [][]byte{DoneFrame()}
	}
	return nil
}

func (s *claudeToChatStream) Finish() [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	return [][]byte{DoneFrame()}
}

// claudeToGeminiStream renders a Claude Messages stream as Gemini chunks.
type claudeToGeminiStream struct {
	model      string
	responseID string
	usage      *gemini.UsageMetadata
}

func newClaudeToGeminiStream(model string) *claudeToGeminiStream {
	return &claudeToGeminiStream{model: model}
}

func (s *claudeToGeminiStream) emit(parts []gemini.Part, finish string) []byte {
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

func (s *claudeToGeminiStream) Next(data []byte) [][]byte {
	event, err := claude.ParseStreamEvent(data)
	if err != nil {
		return nil
	}
	switch event.Type {
	case claude.EventMessageStart:
		if event.Message != nil {
			s.responseID = event.Message.ID
			if event.Message.Model != "" {
				s.model = event.Message.Model
			}
			s.mergeUsage(event.Message.Usage)
		}
		return nil

	case claude.EventContentBlockStart:
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			args := event.ContentBlock.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			return [][]byte{s.emit([]gemini.Part{{FunctionCall: &gemini.FunctionCall{
				Name: event.ContentBlock.Name,
				Args: args,
			}}}, "")}
		}
		return nil

	case claude.EventContentBlockDelta:
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case claude.DeltaText:
			return [][]byte{s.emit([]gemini.Part{{Text: event.Delta.Text}}, "")}
		case claude.DeltaThinking:
			return [][]byte{s.emit([]gemini.Part{{Text: event.Delta.Thinking, Thought: true}}, "")}
		}
		return nil

	case claude.EventMessageDelta:
		if event.Usage != nil {
			s.mergeUsage(*event.Usage)
		}
		finish := gemini.FinishReasonStop
		if event.Delta != nil {
			finish = geminiFinishReasonFromClaude(event.Delta.StopReason)
		}
		return [][]byte{s.emit(nil, finish)}
	}
	return nil
}

func (s *claudeToGeminiStream) mergeUsage(u claude.Usage) {
	if s.usage == nil {
		s.usage = &gemini.UsageMetadata{}
	}
	if u.InputTokens != nil {
		s.usage.PromptTokenCount = u.InputTokens
	}
	if u.OutputTokens != nil {
		s.usage.CandidatesTokenCount = u.OutputTokens
	}
	if u.CacheReadInputTokens != nil {
		s.usage.CachedContentTokenCount = u.CacheReadInputTokens
	}
	if s.usage.PromptTokenCount != nil && s.usage.CandidatesTokenCount != nil {
		s.usage.TotalTokenCount = int64Ptr(*s.usage.PromptTokenCount + *s.usage.CandidatesTokenCount)
	}
}

func (s *claudeToGeminiStream) Finish() [][]byte { return nil }

// claudeToResponsesStream renders a Claude Messages stream as Responses API
// events.
type claudeToResponsesStream struct {
	model       string
	response    openai.Response
	outputIndex int
	itemID      string
	argsByIndex map[int]*openai.OutputItem
	textBuf     string
	done        bool
}

func newClaudeToResponsesStream(model string) *claudeToResponsesStream {
	return &claudeToResponsesStream{
		model:       model,
		argsByIndex: map[int]*openai.OutputItem{},
	}
}

func (s *claudeToResponsesStream) event(typ string, extra map[string]any) []byte {
	payload := map[string]any{"type": typ}
	for k, v := range extra {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	return FrameEvent(typ, raw)
}

func (s *claudeToResponsesStream) Next(data []byte) [][]byte {
	event, err := claude.ParseStreamEvent(data)
	if err != nil {
		return nil
	}
	switch event.Type {
	case claude.EventMessageStart:
		if event.Message != nil {
			s.response = openai.Response{
				ID:        "resp_" + event.Message.ID,
				Object:    "response",
				CreatedAt: time.Now().Unix(),
				Status:    "in_progress",
				Model:     event.Message.Model,
			}
			if s.response.Model == "" {
				s.response.Model = s.model
			}
			s.itemID = "msg_" + event.Message.ID
			s.mergeUsage(event.Message.Usage)
		}
		return [][]byte{s.event(openai.RespEventCreated, map[string]any{"response": &s.response})}

	case claude.EventContentBlockStart:
		if event.ContentBlock == nil || event.Index == nil {
			return nil
		}
		switch event.ContentBlock.Type {
		case "text":
			item := map[string]any{"type": "message", "id": s.itemID, "role": "assistant", "status": "in_progress", "content": []any{}}
			frame := s.event(openai.RespEventOutputItemAdded, map[string]any{
				"output_index": s.outputIndex, "item": item,
			})
			return [][]byte{frame}
		case "tool_use":
			item := &openai.OutputItem{
				Type:   "function_call",
				ID:     "fc_" + event.ContentBlock.ID,
				CallID: event.ContentBlock.ID,
				Name:   event.ContentBlock.Name,
				Status: "in_progress",
			}
			s.argsByIndex[*event.Index] = item
			return [][]byte{s.event(openai.RespEventOutputItemAdded, map[string]any{
				"output_index": s.outputIndex, "item": item,
			})}
		}
		return nil

	case claude.EventContentBlockDelta:
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case claude.DeltaText:
			s.textBuf += event.Delta.Text
			return [][]byte{s.event(openai.RespEventOutputTextDelta, map[string]any{
				"item_id": s.itemID, "output_index": s.outputIndex, "content_index": 0,
				"delta": event.Delta.Text,
			})}
		case claude.DeltaInputJSON:
			itemID := s.itemID
			if event.Index != nil {
				if item, ok := s.argsByIndex[*event.Index]; ok {
					item.Arguments += event.Delta.PartialJSON
					itemID = item.ID
				}
			}
			return [][]byte{s.event(openai.RespEventFuncArgsDelta, map[string]any{
				"item_id": itemID, "output_index": s.outputIndex,
				"delta": event.Delta.PartialJSON,
			})}
		}
		return nil

	case claude.EventContentBlockStop:
		if event.Index != nil {
			if item, ok := s.argsByIndex[*event.Index]; ok {
				item.Status = "completed"
				frame := s.event(openai.RespEventOutputItemDone, map[string]any{
					"output_index": s.outputIndex, "item": item,
				})
				s.response.Output = append(s.response.Output, *item)
				s.outputIndex++
				return [][]byte{frame}
			}
		}
		return nil

	case claude.EventMessageDelta:
		if event.Usage != nil {
			s.mergeUsage(*event.Usage)
		}
		return nil

	case claude.EventMessageStop:
		s.done = true
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
		return [][]byte{s.event(openai.RespEventCompleted, map[string]any{"response": &s.response})}
	}
	return nil
}

func (s *claudeToResponsesStream) mergeUsage(u claude.Usage) {
	if s.response.Usage == nil {
		s.response.Usage = &openai.ResponsesUsage{}
	}
	if u.InputTokens != nil {
		s.response.Usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens != nil {
		s.response.Usage.OutputTokens = u.OutputTokens
	}
	if s.response.Usage.InputTokens != nil && s.response.Usage.OutputTokens != nil {
		s.response.Usage.TotalTokens = int64Ptr(*s.response.Usage.InputTokens + *s.response.Usage.OutputTokens)
	}
}

func (s *claudeToResponsesStream) Finish() [][]byte {
	if s.done {
		return nil
	}
	s.done = true
	s.response.Status = "completed"
	return [][]byte{s.event(openai.RespEventCompleted, map[string]any{"response": &s.response})}
}
