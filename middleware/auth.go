package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/model"
)

// clientKey pulls the caller's api key from any of the three vendor auth
// header conventions, so existing SDKs work unchanged.
func clientKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return key
	}
	// Gemini SDKs also pass ?key=.
	return c.Query("key")
}

// ClientAuth authenticates the inference surface against the api_keys table.
func ClientAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := model.ValidateApiKey(clientKey(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"type": "authentication_error", "message": "invalid api key"},
			})
			return
		}
		c.Set(ctxkey.TokenId, token.Id)
		c.Set(ctxkey.TokenName, token.Name)
		c.Next()
	}
}

// AdminAuth guards the admin plane with the bearer admin key.
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminKey := config.GetRuntime().AdminKey
		supplied := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if adminKey == "" || supplied != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"type": "authentication_error", "message": "invalid admin key"},
			})
			return
		}
		c.Next()
	}
}
