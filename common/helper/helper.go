package helper

import (
	"strings"

	"github.com/google/uuid"
)

// GenTraceId returns the per-request trace identifier.
func GenTraceId() string {
	return uuid.NewString()
}

// GenRequestId returns the compact random id some upstreams require in a
// per-request header.
func GenRequestId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
