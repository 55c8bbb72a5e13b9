package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	JWTSecret     string
	TokenTTL      time.Duration
	TransferFee   int64
	WebhookURL    string
	WebhookSecret string
	Env           string
}

// LoadConfig reads .env file and returns a Config struct
func LoadConfig() *Config {
	// The .env file might not exist in production, which is fine.
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on system env variables")
	}

	return &Config{
		Port:          getEnv("PORT", "3000"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenTTL:      getDuration("TOKEN_TTL", 24*time.Hour),
		TransferFee:   getInt64("TRANSFER_FEE", 0),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		Env:           getEnv("ENV", "development"),
	}
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		slog.Warn("Invalid integer env value, using fallback", "key", key, "value", value)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration env value, using fallback", "key", key, "value", value)
		return fallback
	}
	return d
}
