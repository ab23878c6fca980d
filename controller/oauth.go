package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
	rcontroller "github.com/dfft546/gproxy/relay/controller"
)

// providerFromPath resolves the {provider} path segment and stores the row
// on the context the way the distributor does for inference routes.
func providerFromPath(c *gin.Context) bool {
	name := c.Param("provider")
	row, err := model.GetProviderByName(name)
	if err != nil || !row.Enabled {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"type": "not_found_error", "message": "unknown provider " + name},
		})
		return false
	}
	c.Set(ctxkey.ProviderModel, row)
	return true
}

// OAuthStart serves GET /oauth/{provider}/start.
func OAuthStart(c *gin.Context) {
	if !providerFromPath(c) {
		return
	}
	rcontroller.Relay(c, dispatch.OAuthStart, "", "")
}

// OAuthCallback serves GET /oauth/{provider}/callback. The created
// credential joins the pool immediately.
func OAuthCallback(c *gin.Context) {
	if !providerFromPath(c) {
		return
	}
	rcontroller.Relay(c, dispatch.OAuthCallback, "", "")

	if row, ok := c.MustGet(ctxkey.ProviderModel).(*model.Provider); ok {
		_ = rcontroller.Registry().Reload(row.Id)
	}
}

// ProviderUsage serves GET /providers/{provider}/usage.
func ProviderUsage(c *gin.Context) {
	if !providerFromPath(c) {
		return
	}
	rcontroller.Relay(c, dispatch.Usage, "", "")
}
