package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP) across all HTTP endpoints
	GlobalMax        int
	GlobalExpiration time.Duration

	// WebSocket handshake limits (per IP). Reconnecting crisis clients back
	// off exponentially, so a burst here is misbehavior, not distress.
	HandshakeMax        int
	HandshakeExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults. These are sized to
// never block a legitimately reconnecting crisis client: the client facade
// retries at most once per second.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalMax:        200,
		GlobalExpiration: 1 * time.Minute,

		HandshakeMax:        30,
		HandshakeExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_HANDSHAKE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.HandshakeMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalMax = 1000
		config.HandshakeMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalRateLimiter creates a per-IP rate limiter for all HTTP requests.
// Health and metrics probes are exempt so monitoring never trips the limit.
func GlobalRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalMax,
		Expiration: config.GlobalExpiration,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalExpiration.Seconds()),
			})
		},
	})
}

// HandshakeRateLimiter limits WebSocket connection attempts per IP. It only
// gates the handshake: an established session is never rate limited out of
// its connection.
func HandshakeRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.HandshakeMax,
		Expiration: config.HandshakeExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] WebSocket handshake limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(config.HandshakeExpiration.Seconds()),
			})
		},
	})
}
