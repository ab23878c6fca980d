package openai

import "encoding/json"

type ResponsesRequest struct {
	Model             string          `json:"model"`
	Input             json.RawMessage `json:"input,omitempty"` // string or []InputItem
	Instructions      string          `json:"instructions,omitempty"`
	MaxOutputTokens   *int64          `json:"max_output_tokens,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`
	TopP              *float64        `json:"top_p,omitempty"`
	Tools             []ResponsesTool `json:"tools,omitempty"`
	ToolChoice        json.RawMessage `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
	Stream            *bool           `json:"stream,omitempty"`
	Reasoning         *Reasoning      `json:"reasoning,omitempty"`
	Text              *TextConfig     `json:"text,omitempty"`
	Store             *bool           `json:"store,omitempty"`
	User              string          `json:"user,omitempty"`
}

type Reasoning struct {
	Effort  string `json:"effort,omitempty"` // none|minimal|low|medium|high|xhigh
	Summary string `json:"summary,omitempty"`
}

type TextConfig struct {
	Format *TextFormat `json:"format,omitempty"`
}

type TextFormat struct {
	Type   string          `json:"type"` // text | json_object | json_schema
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// ResponsesTool flattens function and built-in tool shapes; Type
// discriminates.
type ResponsesTool struct {
	Type string `json:"type"`

	// function
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
}

// InputItem is one element of the structured input array: a message, a
// function_call, or a function_call_output.
type InputItem struct {
	Type string `json:"type,omitempty"` // message | function_call | function_call_output

	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"` // string or []InputContent

	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type InputContent struct {
	Type string `json:"type"` // input_text | input_image | input_file | output_text

	Text string `json:"text,omitempty"`

	ImageURL string `json:"image_url,omitempty"`

	FileData string `json:"file_data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Response struct {
	ID                string          `json:"id"`
	Object            string          `json:"object"` // response
	CreatedAt         int64           `json:"created_at"`
	Status            string          `json:"status"` // completed | failed | incomplete | in_progress
	Model             string          `json:"model"`
	Output            []OutputItem    `json:"output"`
	Usage             *ResponsesUsage `json:"usage,omitempty"`
	IncompleteDetails *struct {
		Reason string `json:"reason,omitempty"`
	} `json:"incomplete_details,omitempty"`
	Error *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

type OutputItem struct {
	Type string `json:"type"` // message | function_call | reasoning

	ID     string          `json:"id,omitempty"`
	Role   string          `json:"role,omitempty"`
	Status string          `json:"status,omitempty"`
	Content []OutputContent `json:"content,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Summary []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"summary,omitempty"`
}

type OutputContent struct {
	Type    string `json:"type"` // output_text | refusal
	Text    string `json:"text,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

type ResponsesUsage struct {
	InputTokens        *int64 `json:"input_tokens,omitempty"`
	OutputTokens       *int64 `json:"output_tokens,omitempty"`
	TotalTokens        *int64 `json:"total_tokens,omitempty"`
	InputTokensDetails *struct {
		CachedTokens *int64 `json:"cached_tokens,omitempty"`
	} `json:"input_tokens_details,omitempty"`
	OutputTokensDetails *struct {
		ReasoningTokens *int64 `json:"reasoning_tokens,omitempty"`
	} `json:"output_tokens_details,omitempty"`
}

// ResponsesStreamEvent is the union of Responses stream event shapes.
type ResponsesStreamEvent struct {
	Type string `json:"type"`

	Response *Response `json:"response,omitempty"`

	OutputIndex  *int        `json:"output_index,omitempty"`
	ContentIndex *int        `json:"content_index,omitempty"`
	ItemID       string      `json:"item_id,omitempty"`
	Item         *OutputItem `json:"item,omitempty"`

	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`

	Arguments string `json:"arguments,omitempty"`
}

const (
	RespEventCreated           = "response.created"
	RespEventInProgress        = "response.in_progress"
	RespEventCompleted         = "response.completed"
	RespEventFailed            = "response.failed"
	RespEventIncomplete        = "response.incomplete"
	RespEventOutputItemAdded   = "response.output_item.added"
	RespEventOutputItemDone    = "response.output_item.done"
	RespEventContentPartAdded  = "response.content_part.added"
	RespEventContentPartDone   = "response.content_part.done"
	RespEventOutputTextDelta   = "response.output_text.delta"
	RespEventOutputTextDone    = "response.output_text.done"
	RespEventRefusalDelta      = "response.refusal.delta"
	RespEventFuncArgsDelta     = "response.function_call_arguments.delta"
	RespEventFuncArgsDone      = "response.function_call_arguments.done"
)

type InputTokensRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input,omitempty"`
}

type InputTokensResponse struct {
	Object      string `json:"object"` // response.input_tokens
	InputTokens int64  `json:"input_tokens"`
}
