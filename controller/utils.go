package controller

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"
)

func restoreBody(c *gin.Context, body []byte) {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Request.ContentLength = int64(len(body))
}
