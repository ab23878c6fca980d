package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"
)

// restoreBody puts consumed request bytes back so downstream handlers can
// read them again.
func restoreBody(c *gin.Context, body []byte) {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Request.ContentLength = int64(len(body))
}
