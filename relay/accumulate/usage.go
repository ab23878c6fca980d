// Package accumulate extracts token usage and output text incrementally from
// streamed upstream events. Parse failures never surface: a malformed frame
// must not fail the stream.
package accumulate

import (
	"encoding/json"

	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

// UsageAccumulator merges usage fields out of stream events of one upstream
// protocol. Later non-nil fields overwrite earlier ones; nil never clears.
type UsageAccumulator struct {
	kind   dispatch.UsageKind
	latest relaymodel.UsageSummary
	seen   bool
}

func NewUsageAccumulator(kind dispatch.UsageKind) *UsageAccumulator {
	return &UsageAccumulator{kind: kind}
}

// Push parses one SSE data payload and merges any usage it carries. It
// returns the running summary after a merge, nil otherwise.
func (a *UsageAccumulator) Push(data []byte) *relaymodel.UsageSummary {
	incoming := extractUsage(a.kind, data)
	if incoming == nil {
		return nil
	}
	a.latest.Merge(*incoming)
	a.seen = true
	out := a.latest
	return &out
}

// Finalize returns the merged summary, or nil if no event ever carried usage.
func (a *UsageAccumulator) Finalize() *relaymodel.UsageSummary {
	if !a.seen {
		return nil
	}
	out := a.latest
	return &out
}

func extractUsage(kind dispatch.UsageKind, data []byte) *relaymodel.UsageSummary {
	switch kind {
	case dispatch.UsageClaudeMessage:
		return usageFromClaude(data)
	case dispatch.UsageOpenAIChat:
		return usageFromOpenAIChat(data)
	case dispatch.UsageOpenAIResponses:
		return usageFromOpenAIResponses(data)
	case dispatch.UsageGeminiGenerate:
		return usageFromGemini(data)
	default:
		return nil
	}
}

func usageFromClaude(data []byte) *relaymodel.UsageSummary {
	event, err := claude.ParseStreamEvent(data)
	if err != nil {
		return nil
	}
	var u *claude.Usage
	switch event.Type {
	case claude.EventMessageStart:
		if event.Message != nil {
			u = &event.Message.Usage
		}
	case claude.EventMessageDelta:
		u = event.Usage
	}
	if u == nil {
		return nil
	}
	return &relaymodel.UsageSummary{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
	}
}

func usageFromOpenAIChat(data []byte) *relaymodel.UsageSummary {
	var chunk openai.ChatChunk
	if err := json.Unmarshal(data, &chunk); err != nil || chunk.Usage == nil {
		return nil
	}
	return chatUsageToSummary(chunk.Usage)
}

func chatUsageToSummary(u *openai.ChatUsage) *relaymodel.UsageSummary {
	out := &relaymodel.UsageSummary{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CacheReadInputTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

func usageFromOpenAIResponses(data []byte) *relaymodel.UsageSummary {
	var event openai.ResponsesStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil
	}
	switch event.Type {
	case openai.RespEventCreated, openai.RespEventInProgress, openai.RespEventCompleted,
		openai.RespEventFailed, openai.RespEventIncomplete:
	default:
		return nil
	}
	if event.Response == nil || event.Response.Usage == nil {
		return nil
	}
	return responsesUsageToSummary(event.Response.Usage)
}

func responsesUsageToSummary(u *openai.ResponsesUsage) *relaymodel.UsageSummary {
	out := &relaymodel.UsageSummary{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if u.InputTokensDetails != nil {
		out.CacheReadInputTokens = u.InputTokensDetails.CachedTokens
	}
	return out
}

func usageFromGemini(data []byte) *relaymodel.UsageSummary {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.UsageMetadata == nil {
		return nil
	}
	return geminiUsageToSummary(resp.UsageMetadata)
}

func geminiUsageToSummary(u *gemini.UsageMetadata) *relaymodel.UsageSummary {
	return &relaymodel.UsageSummary{
		InputTokens:          u.PromptTokenCount,
		OutputTokens:         u.CandidatesTokenCount,
		CacheReadInputTokens: u.CachedContentTokenCount,
	}
}

// UsageFromResponseBody extracts usage from a buffered non-streaming
// response body of the given upstream protocol.
func UsageFromResponseBody(kind dispatch.UsageKind, body []byte) *relaymodel.UsageSummary {
	switch kind {
	case dispatch.UsageClaudeMessage:
		var msg claude.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil
		}
		u := msg.Usage
		if u.InputTokens == nil && u.OutputTokens == nil {
			return nil
		}
		return &relaymodel.UsageSummary{
			InputTokens:              u.InputTokens,
			OutputTokens:             u.OutputTokens,
			CacheReadInputTokens:     u.CacheReadInputTokens,
			CacheCreationInputTokens: u.CacheCreationInputTokens,
		}
	case dispatch.UsageOpenAIChat:
		var resp openai.ChatResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
			return nil
		}
		return chatUsageToSummary(resp.Usage)
	case dispatch.UsageOpenAIResponses:
		var resp openai.Response
		if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
			return nil
		}
		return responsesUsageToSummary(resp.Usage)
	case dispatch.UsageGeminiGenerate:
		var resp gemini.GenerateContentResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.UsageMetadata == nil {
			return nil
		}
		return geminiUsageToSummary(resp.UsageMetadata)
	default:
		return nil
	}
}
