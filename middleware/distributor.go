package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/model"
)

// Distributor resolves which provider serves the request and stores its row
// on the context. Resolution order:
//  1. X-Gproxy-Provider header or ?provider= query,
//  2. a "name/" prefix on the model (stripped before relay),
//  3. the only enabled provider,
//  4. a model-family heuristic over the enabled providers.
func Distributor() gin.HandlerFunc {
	return func(c *gin.Context) {
		providers, err := model.GetAllProviders()
		if err != nil {
			abortNoProvider(c, "provider lookup failed")
			return
		}
		enabled := providers[:0:0]
		for _, p := range providers {
			if p.Enabled {
				enabled = append(enabled, p)
			}
		}
		if len(enabled) == 0 {
			abortNoProvider(c, "no enabled provider")
			return
		}

		name := c.GetHeader("X-Gproxy-Provider")
		if name == "" {
			name = c.Query("provider")
		}
		modelName := modelNameOf(c)

		if name == "" {
			if prefix, rest, ok := strings.Cut(modelName, "/"); ok {
				for _, p := range enabled {
					if p.Name == prefix {
						name = prefix
						rewriteModel(c, rest)
						break
					}
				}
			}
		}

		var chosen *model.Provider
		switch {
		case name != "":
			for _, p := range enabled {
				if p.Name == name {
					chosen = p
					break
				}
			}
			if chosen == nil {
				abortNoProvider(c, "unknown provider "+name)
				return
			}
		case len(enabled) == 1:
			chosen = enabled[0]
		default:
			chosen = byModelFamily(enabled, modelName)
		}

		c.Set(ctxkey.ProviderModel, chosen)
		c.Next()
	}
}

// byModelFamily picks the first enabled provider whose family matches the
// model name, falling back to the first enabled provider.
func byModelFamily(enabled []*model.Provider, modelName string) *model.Provider {
	bare := modelName
	// Behavior prefixes do not change the family.
	for _, prefix := range []string{"假流式/", "流式抗截断/"} {
		bare = strings.TrimPrefix(bare, prefix)
	}
	var families []string
	switch {
	case strings.HasPrefix(bare, "claude"):
		families = []string{"claude", "claudecode"}
	case strings.HasPrefix(bare, "gemini"):
		families = []string{"geminicli", "aistudio", "antigravity"}
	case strings.HasPrefix(bare, "gpt"), strings.HasPrefix(bare, "o1"),
		strings.HasPrefix(bare, "o3"), strings.HasPrefix(bare, "o4"):
		families = []string{"codex"}
	}
	for _, family := range families {
		for _, p := range enabled {
			if p.Name == family {
				return p
			}
		}
	}
	return enabled[0]
}

// modelNameOf reads the model without consuming the request body: path
// parameter for Gemini routes, a body peek elsewhere.
func modelNameOf(c *gin.Context) string {
	if m := c.Param("model"); m != "" {
		return strings.TrimSuffix(m, ":generateContent")
	}
	if c.Request.Method != http.MethodPost || c.Request.Body == nil {
		return ""
	}
	body, err := c.GetRawData()
	if err != nil {
		return ""
	}
	restoreBody(c, body)
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}

// rewriteModel strips a provider prefix from the body's model field so the
// upstream sees the bare name.
func rewriteModel(c *gin.Context, bare string) {
	if c.Request.Method != http.MethodPost || c.Request.Body == nil {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		return
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		restoreBody(c, body)
		return
	}
	encoded, _ := json.Marshal(bare)
	decoded["model"] = encoded
	if rewritten, err := json.Marshal(decoded); err == nil {
		body = rewritten
	}
	restoreBody(c, body)
}

func abortNoProvider(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error": gin.H{"type": "api_error", "message": message},
	})
}
