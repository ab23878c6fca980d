package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/common/logger"
)

func RelayPanicRecover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Logger.Error("panic detected",
					zap.Any("error", err),
					zap.String("stacktrace", string(debug.Stack())),
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"type":    "api_error",
						"message": fmt.Sprintf("internal error (trace %s)", c.GetString(ctxkey.TraceId)),
					},
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
