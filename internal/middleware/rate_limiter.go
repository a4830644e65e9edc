package middleware

import (
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

//go:embed rate_limiter.lua
var luaScript string

var tokenBucket = redis.NewScript(luaScript)

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Capacity   int     // Maximum number of tokens (max requests)
	RefillRate float64 // Tokens refilled per second
}

// DefaultRateLimiterConfig returns default rate limiter settings
// 10 requests per second with burst capacity of 20
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Capacity:   20,
		RefillRate: 10.0,
	}
}

// RateLimiterMiddleware implements a per-client token bucket in Redis.
// Buckets are named so read and write routes do not share tokens.
// A nil client disables limiting.
func RateLimiterMiddleware(redisClient *redis.Client, bucket string, config *RateLimiterConfig) gin.HandlerFunc {
	if redisClient == nil {
		logrus.WithField("bucket", bucket).Warn("Redis not configured, rate limiting disabled")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := ClientRateLimiterKey(bucket, c.ClientIP())
		now := time.Now().UnixMilli()

		result, err := tokenBucket.Run(c.Request.Context(), redisClient, []string{key},
			config.Capacity,
			config.RefillRate,
			now,
		).Int64()

		if err != nil {
			logrus.WithError(err).Error("Failed to execute rate limiter Lua script")
			// Fail open
			c.Next()
			return
		}

		if result == 0 {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Maximum %.1f requests per second allowed", config.RefillRate),
				"retry_after": fmt.Sprintf("%.1f seconds", 1.0/config.RefillRate),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ClientRateLimiterKey builds the bucket key for one client address
func ClientRateLimiterKey(bucket, clientIP string) string {
	return fmt.Sprintf("rate_limiter:%s:ip:%s", bucket, clientIP)
}
