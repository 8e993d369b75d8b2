package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	RedisURL    string
	JWTSecret   string

	// Session limits
	MaxMessageLength  int
	CriticalThreshold int

	// Background job cadence
	MetricsInterval     time.Duration
	HealthCheckInterval time.Duration
	IdleThreshold       time.Duration

	// Optional YAML file overriding the built-in emergency contacts
	EmergencyContactsFile string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENVIRONMENT", "development"),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MaxMessageLength:  getIntEnv("MESSAGE_MAX_LENGTH", 2000),
		CriticalThreshold: getIntEnv("CRITICAL_SEVERITY_THRESHOLD", 9),

		MetricsInterval:     getDurationEnv("METRICS_INTERVAL", 5*time.Second),
		HealthCheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", 30*time.Second),
		IdleThreshold:       getDurationEnv("IDLE_THRESHOLD", 5*time.Minute),

		EmergencyContactsFile: getEnv("EMERGENCY_CONTACTS_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
