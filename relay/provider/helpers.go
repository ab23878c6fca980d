package provider

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"

	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	"github.com/dfft546/gproxy/relay/oauth"
	"github.com/dfft546/gproxy/relay/pool"
	"github.com/dfft546/gproxy/relay/protocol/claude"
	"github.com/dfft546/gproxy/relay/protocol/gemini"
	"github.com/dfft546/gproxy/relay/protocol/openai"
	relaymodel "github.com/dfft546/gproxy/relay/model"
)

func mustMarshal(v any) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

// insertOAuthCredential persists the credential created by an OAuth
// callback. The admin plane reloads the provider pool afterwards.
func insertOAuthCredential(providerId int, tokens oauth.TokenSet, projectID string) (int, *relaymodel.PassthroughError) {
	credential := &model.Credential{
		ProviderId: providerId,
		Name:       "oauth",
		Weight:     1,
		Enabled:    true,
	}
	if err := credential.SetSecret(model.CredentialSecret{
		Kind:         model.SecretOAuth,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		ProjectID:    projectID,
	}); err != nil {
		return 0, relaymodel.TransformFailed("")
	}
	if err := credential.Insert(); err != nil {
		return 0, relaymodel.ServiceUnavailable("credential insert failed")
	}
	return credential.Id, nil
}

// persistSecret writes a mutated secret to the store and the pool snapshot.
func persistSecret(p *pool.Pool, credentialID int, secret model.CredentialSecret) error {
	err := model.UpdateCredentialSecret(credentialID, secret)
	p.UpdateEntrySecret(credentialID, secret)
	return err
}

// localCountTokens serves count-token operations from the request text
// alone, using the tiktoken tokenizer as the measuring stick. The answer is
// an estimate: backends without a counting endpoint get no better signal.
func localCountTokens(req *Request) ([]byte, *relaymodel.PassthroughError) {
	text := textForCounting(req.Body)
	count := countTokens(text)
	switch req.Op {
	case dispatch.ClaudeCountTokens:
		return mustMarshal(&claude.CountTokensResponse{InputTokens: count}), nil
	case dispatch.GeminiCountTokens:
		return mustMarshal(&gemini.CountTokensResponse{TotalTokens: count}), nil
	default:
		return mustMarshal(&openai.InputTokensResponse{
			Object:      "response.input_tokens",
			InputTokens: count,
		}), nil
	}
}

// textForCounting flattens every string value of the request body, which
// approximates the prompt text across all three protocols.
func textForCounting(body []byte) string {
	var sb strings.Builder
	var walk func(value gjson.Result)
	walk = func(value gjson.Result) {
		switch value.Type {
		case gjson.String:
			sb.WriteString(value.Str)
			sb.WriteByte('\n')
		default:
			if value.IsArray() || value.IsObject() {
				value.ForEach(func(_, v gjson.Result) bool {
					walk(v)
					return true
				})
			}
		}
	}
	walk(gjson.ParseBytes(body))
	return sb.String()
}

var tokenizerOnce sync.Once
var tokenizer *tiktoken.Tiktoken

func countTokens(text string) int64 {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Logger.Warn("tiktoken unavailable, falling back to byte estimate", zap.Error(err))
			return
		}
		tokenizer = enc
	})
	if tokenizer == nil {
		return int64(len(text) / 4)
	}
	return int64(len(tokenizer.Encode(text, nil, nil)))
}
