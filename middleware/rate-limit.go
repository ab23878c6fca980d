package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/ctxkey"
)

var (
	limiterMu sync.Mutex
	limiters  = map[int]*rate.Limiter{}
)

func limiterFor(tokenId int) *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	if l, ok := limiters[tokenId]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(config.RateLimitPerKey), config.RateLimitBurst)
	limiters[tokenId] = l
	return l
}

// RateLimit throttles each api key independently. Disabled when
// RATE_LIMIT_PER_KEY is zero.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.RateLimitPerKey <= 0 {
			c.Next()
			return
		}
		if !limiterFor(c.GetInt(ctxkey.TokenId)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"type": "rate_limit_error", "message": "request rate exceeded"},
			})
			return
		}
		c.Next()
	}
}
