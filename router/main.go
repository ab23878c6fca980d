// Package router wires the client-facing, OAuth, and admin HTTP surfaces.
package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/controller"
	"github.com/dfft546/gproxy/middleware"
)

func SetRouter(engine *gin.Engine) {
	engine.Use(middleware.RequestId())
	engine.Use(middleware.RelayPanicRecover())
	engine.Use(cors.Default())

	engine.GET("/status", controller.Status)
	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	setRelayRouter(engine)
	setOAuthRouter(engine)
	setAdminRouter(engine)
}

func setRelayRouter(engine *gin.Engine) {
	relay := engine.Group("")
	relay.Use(middleware.ClientAuth(), middleware.RateLimit(), middleware.Distributor())

	// Claude surface. /v1/models is shared with the OpenAI surface; the
	// handler discriminates on the auth header convention.
	relay.POST("/v1/messages", controller.RelayClaudeMessages)
	relay.POST("/v1/messages/count_tokens", controller.RelayClaudeCountTokens)
	relay.GET("/v1/models", controller.RelayModelsList)
	relay.GET("/v1/models/:id", controller.RelayModelsGet)

	// Gemini surface. The :model parameter carries the action suffix
	// (model:generateContent), split in the handler.
	relay.POST("/v1beta/models/:model", controller.RelayGeminiGenerate)
	relay.GET("/v1beta/models", controller.RelayGeminiModelsList)
	relay.GET("/v1beta/models/:model", controller.RelayGeminiGenerate)

	// OpenAI surface.
	relay.POST("/v1/chat/completions", controller.RelayOpenAIChat)
	relay.POST("/v1/responses", controller.RelayOpenAIResponses)
	relay.POST("/v1/responses/input_tokens", controller.RelayOpenAIInputTokens)
}

func setOAuthRouter(engine *gin.Engine) {
	// The OAuth surface is admin-authenticated: it mints credentials.
	oauth := engine.Group("")
	oauth.Use(middleware.AdminAuth())
	oauth.GET("/oauth/:provider/start", controller.OAuthStart)
	oauth.GET("/oauth/:provider/callback", controller.OAuthCallback)
	oauth.GET("/providers/:provider/usage", controller.ProviderUsage)
	oauth.GET("/providers/:provider/disallows", controller.GetProviderDisallows)
}

func setAdminRouter(engine *gin.Engine) {
	api := engine.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression), middleware.AdminAuth())

	api.GET("/providers", controller.GetProviders)
	api.POST("/providers", controller.CreateProvider)
	api.GET("/providers/:id", controller.GetProvider)
	api.PUT("/providers/:id", controller.UpdateProvider)
	api.DELETE("/providers/:id", controller.DeleteProvider)
	api.GET("/providers/:id/credentials", controller.GetCredentials)
	api.POST("/providers/:id/credentials", controller.CreateCredential)
	api.PUT("/credentials/:id", controller.UpdateCredential)
	api.DELETE("/credentials/:id", controller.DeleteCredential)

	api.GET("/users", controller.GetUsers)
	api.POST("/users", controller.CreateUser)
	api.PUT("/users/:id", controller.UpdateUser)
	api.DELETE("/users/:id", controller.DeleteUser)

	api.GET("/keys", controller.GetApiKeys)
	api.POST("/keys", controller.CreateApiKey)
	api.PUT("/keys/:id", controller.UpdateApiKey)
	api.DELETE("/keys/:id", controller.DeleteApiKey)

	api.GET("/config", controller.GetGlobalConfig)
	api.PUT("/config", controller.UpdateGlobalConfig)
}
