package wickchat

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// AppConfig holds server-level runtime configuration loaded from env.
type AppConfig struct {
	Host       string
	Port       int
	ConfigFile string
	// Database overrides the path from chat.yaml when set.
	Database string
	// AllowOrigin is the CORS origin; "*" when empty.
	AllowOrigin string
}

// LoadAppConfig reads configuration from a .env file (if present) and the
// environment. Command-line flags are applied on top by the caller.
func LoadAppConfig() *AppConfig {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}
	return &AppConfig{
		Host:        envOr("HOST", "0.0.0.0"),
		Port:        envIntOr("PORT", 8000),
		ConfigFile:  os.Getenv("WICK_CHAT_CONFIG"),
		Database:    os.Getenv("WICK_CHAT_DB"),
		AllowOrigin: envOr("CORS_ALLOW_ORIGIN", "*"),
	}
}

// envOr returns the environment variable or a default value.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envIntOr returns the environment variable as int or a default value.
func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
