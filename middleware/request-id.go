package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/common/helper"
)

func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := helper.GenTraceId()
		c.Set(ctxkey.TraceId, id)
		c.Header(ctxkey.TraceId, id)
		c.Next()
	}
}
