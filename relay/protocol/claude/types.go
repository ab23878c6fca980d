// Package claude models the Anthropic Messages wire protocol, limited to the
// fields the gateway reads or writes. Unknown fields round-trip untouched
// where bodies are proxied raw.
package claude

import "encoding/json"

type MessageRequest struct {
	Model         string           `json:"model"`
	MaxTokens     int64            `json:"max_tokens"`
	Messages      []MessageParam   `json:"messages"`
	System        json.RawMessage  `json:"system,omitempty"` // string or []TextBlock
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Stream        *bool            `json:"stream,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	TopK          *int64           `json:"top_k,omitempty"`
	Metadata      *RequestMetadata `json:"metadata,omitempty"`
	Thinking      *ThinkingConfig  `json:"thinking,omitempty"`
	ToolChoice    *ToolChoice      `json:"tool_choice,omitempty"`
	Tools         []Tool           `json:"tools,omitempty"`
	OutputFormat  *OutputFormat    `json:"output_format,omitempty"`
}

type RequestMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type MessageParam struct {
	Role    string          `json:"role"` // user | assistant
	Content json.RawMessage `json:"content"`
}

// ContentBlock is the union of request and response content block shapes.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`

	// image / document
	Source *Source `json:"source,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"` // redacted_thinking
}

type Source struct {
	Type      string `json:"type"` // base64 | url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ThinkingConfig struct {
	Type         string `json:"type"` // enabled | disabled
	BudgetTokens int64  `json:"budget_tokens,omitempty"`
}

type ToolChoice struct {
	Type                   string `json:"type"` // auto | any | tool | none
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse *bool  `json:"disable_parallel_tool_use,omitempty"`
}

type Tool struct {
	// Function tools carry a name plus JSON-schema input; built-in tools are
	// discriminated by Type (web_search_20250305, bash_20250124, ...).
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	MaxUses     *int64          `json:"max_uses,omitempty"`
}

type OutputFormat struct {
	Type   string          `json:"type"` // json_schema
	Schema json.RawMessage `json:"schema,omitempty"`
	Name   string          `json:"name,omitempty"`
}

type Usage struct {
	InputTokens              *int64 `json:"input_tokens,omitempty"`
	OutputTokens             *int64 `json:"output_tokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
}

type Message struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // message
	Role         string         `json:"role"` // assistant
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
	StopReasonToolUse      = "tool_use"
	StopReasonRefusal      = "refusal"
)

type CountTokensRequest struct {
	Model      string          `json:"model"`
	Messages   []MessageParam  `json:"messages"`
	System     json.RawMessage `json:"system,omitempty"`
	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking   *ThinkingConfig `json:"thinking,omitempty"`
}

type CountTokensResponse struct {
	InputTokens int64 `json:"input_tokens"`
}

type ModelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"` // model
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

type ModelsList struct {
	Data    []ModelInfo `json:"data"`
	HasMore bool        `json:"has_more"`
	FirstID *string     `json:"first_id"`
	LastID  *string     `json:"last_id"`
}
