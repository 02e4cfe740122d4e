package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/talentqueue/jobqueue/internal/config"
)

// RateLimiter throttles the admin API per client IP using a Redis
// counter, protecting the enqueue endpoint from a runaway producer.
func RateLimiter(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.Background()
		clientIP := c.ClientIP()
		key := fmt.Sprintf("rate_limit:%s", clientIP)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}

		if count == 1 {
			rdb.Expire(ctx, key, cfg.RateLimit.Window)
		}

		if count > int64(cfg.RateLimit.Requests) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RateLimit.Requests))
		c.Writer.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.RateLimit.Requests-int(count)))
		c.Writer.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(cfg.RateLimit.Window).Unix()))

		c.Next()
	}
}