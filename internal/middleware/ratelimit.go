package middleware

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int           // Max requests per minute for all API endpoints
	GlobalAPIExpiration time.Duration // Expiration window

	// Plan/build/chat limits (per IP). Each of these can hold a remote agent for minutes.
	InvocationMax        int
	InvocationExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec - very generous for normal use
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		InvocationMax:        20,
		InvocationExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults.
// invocationMax comes from the service config; values <= 0 keep the default.
func LoadRateLimitConfig(invocationMax int, environment string) *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if invocationMax > 0 {
		config.InvocationMax = invocationMax
	}

	// Allow environment overrides for tuning
	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	// Development mode: more lenient limits
	if strings.EqualFold(environment, "development") {
		config.GlobalAPIMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed global rate limit")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// InvocationRateLimiter limits plan, build and chat requests, which start remote agent runs
func InvocationRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.InvocationMax,
		Expiration: config.InvocationExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "invoke:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Invocation limit reached for IP: %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many code generation requests. Please wait before trying again.",
				"retry_after": int(config.InvocationExpiration.Seconds()),
			})
		},
	})
}
