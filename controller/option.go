package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/model"
)

func GetGlobalConfig(c *gin.Context) {
	rt := config.GetRuntime()
	// The admin key is write-only through this surface.
	rt.AdminKey = ""
	c.JSON(http.StatusOK, gin.H{"data": rt})
}

type globalConfigInput struct {
	Host                 *string `json:"host"`
	Port                 *int    `json:"port" binding:"omitempty,gt=0,lte=65535"`
	AdminKey             *string `json:"admin_key" binding:"omitempty,min=16"`
	Proxy                *string `json:"proxy"`
	EventRedactSensitive *bool   `json:"event_redact_sensitive"`
}

func UpdateGlobalConfig(c *gin.Context) {
	var input globalConfigInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	rt := config.GetRuntime()
	if input.Host != nil {
		rt.Host = *input.Host
	}
	if input.Port != nil {
		rt.Port = *input.Port
	}
	if input.AdminKey != nil {
		rt.AdminKey = *input.AdminKey
	}
	if input.Proxy != nil {
		rt.Proxy = *input.Proxy
	}
	if input.EventRedactSensitive != nil {
		rt.EventRedactSensitive = *input.EventRedactSensitive
	}
	if err := model.SaveGlobalConfig(rt); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	rt.AdminKey = ""
	c.JSON(http.StatusOK, gin.H{"data": rt})
}

// Status is the unauthenticated liveness endpoint.
func Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
