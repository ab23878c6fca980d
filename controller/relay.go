package controller

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/relay/dispatch"
	rcontroller "github.com/dfft546/gproxy/relay/controller"
)

// streamRequested peeks the body's stream flag without consuming it.
func streamRequested(c *gin.Context) bool {
	body, err := c.GetRawData()
	if err != nil {
		return false
	}
	restoreBody(c, body)
	var probe struct {
		Stream *bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream != nil && *probe.Stream
}

// RelayClaudeMessages serves POST /v1/messages.
func RelayClaudeMessages(c *gin.Context) {
	op := dispatch.ClaudeMessages
	if streamRequested(c) {
		op = dispatch.ClaudeMessagesStream
	}
	rcontroller.Relay(c, op, "", "")
}

// RelayClaudeCountTokens serves POST /v1/messages/count_tokens.
func RelayClaudeCountTokens(c *gin.Context) {
	rcontroller.Relay(c, dispatch.ClaudeCountTokens, "", "")
}

// RelayGeminiGenerate serves POST /v1beta/models/{model}:{action}.
func RelayGeminiGenerate(c *gin.Context) {
	param := c.Param("model")
	modelName, action, ok := strings.Cut(param, ":")
	if !ok {
		// No action suffix: this is GET /v1beta/models/{name}.
		rcontroller.Relay(c, dispatch.GeminiModelsGet, "", param)
		return
	}
	switch action {
	case "generateContent":
		rcontroller.Relay(c, dispatch.GeminiGenerate, modelName, "")
	case "streamGenerateContent":
		rcontroller.Relay(c, dispatch.GeminiGenerateStream, modelName, "")
	case "countTokens":
		rcontroller.Relay(c, dispatch.GeminiCountTokens, modelName, "")
	default:
		c.JSON(404, gin.H{"error": gin.H{"message": "unknown action " + action}})
	}
}

// RelayGeminiModelsList serves GET /v1beta/models.
func RelayGeminiModelsList(c *gin.Context) {
	rcontroller.Relay(c, dispatch.GeminiModelsList, "", "")
}

// RelayOpenAIChat serves POST /v1/chat/completions.
func RelayOpenAIChat(c *gin.Context) {
	op := dispatch.OpenAIChat
	if streamRequested(c) {
		op = dispatch.OpenAIChatStream
	}
	rcontroller.Relay(c, op, "", "")
}

// RelayOpenAIResponses serves POST /v1/responses.
func RelayOpenAIResponses(c *gin.Context) {
	op := dispatch.OpenAIResponses
	if streamRequested(c) {
		op = dispatch.OpenAIResponsesStream
	}
	rcontroller.Relay(c, op, "", "")
}

// RelayOpenAIInputTokens serves POST /v1/responses/input_tokens.
func RelayOpenAIInputTokens(c *gin.Context) {
	rcontroller.Relay(c, dispatch.OpenAIInputTokens, "", "")
}

// RelayModelsList serves GET /v1/models for both the Claude and OpenAI
// surfaces: the wire shape follows the caller's auth header convention.
func RelayModelsList(c *gin.Context) {
	if c.GetHeader("x-api-key") != "" {
		rcontroller.Relay(c, dispatch.ClaudeModelsList, "", "")
		return
	}
	rcontroller.Relay(c, dispatch.OpenAIModelsList, "", "")
}

// RelayModelsGet serves GET /v1/models/{id}.
func RelayModelsGet(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if c.GetHeader("x-api-key") != "" {
		rcontroller.Relay(c, dispatch.ClaudeModelsGet, "", id)
		return
	}
	rcontroller.Relay(c, dispatch.OpenAIModelsGet, "", id)
}
