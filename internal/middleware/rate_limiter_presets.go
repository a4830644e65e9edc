package middleware

// ConservativeRateLimiter is applied to routes that start compute work.
// Burst: 10 requests, Sustained: 5 requests per second
func ConservativeRateLimiter() *RateLimiterConfig {
	return &RateLimiterConfig{
		Capacity:   10,
		RefillRate: 5.0,
	}
}

// GenerousRateLimiter is applied to the polling and read routes.
// Burst: 100 requests, Sustained: 50 requests per second
func GenerousRateLimiter() *RateLimiterConfig {
	return &RateLimiterConfig{
		Capacity:   100,
		RefillRate: 50.0,
	}
}
