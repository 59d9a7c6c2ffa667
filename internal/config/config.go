// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/mailgrant/mailgrant/internal/crypt"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// DatabaseURL is the SQLite DSN or file path for the credential store.
	DatabaseURL string

	// EncryptionKey is the 32-byte key for the token codec, decoded from
	// FERNET_KEY. Never logged.
	EncryptionKey []byte

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	ListenAddr  string
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from environment variables and returns a
// validated Config. FERNET_KEY, GOOGLE_CLIENT_ID, and GOOGLE_CLIENT_SECRET
// are required; the process must not start without them. Optional variables
// with defaults: DATABASE_URL (mailgrant.db), GOOGLE_REDIRECT_URL
// (http://localhost:8080/auth/callback), MAILGRANT_LISTEN_ADDR
// (127.0.0.1:8080), MAILGRANT_METRICS_ADDR (:9090, empty string disables),
// MAILGRANT_LOG_LEVEL (info), MAILGRANT_LOG_FORMAT (json).
func Load() (*Config, error) {
	rawKey := os.Getenv("FERNET_KEY")
	if rawKey == "" {
		return nil, fmt.Errorf("FERNET_KEY environment variable is not set")
	}
	key, err := crypt.KeyFromBase64(rawKey)
	if err != nil {
		return nil, fmt.Errorf("FERNET_KEY is malformed: %w", err)
	}

	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	if clientID == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID environment variable is not set")
	}
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if clientSecret == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_SECRET environment variable is not set")
	}

	cfg := &Config{
		DatabaseURL:        "mailgrant.db",
		EncryptionKey:      key,
		GoogleClientID:     clientID,
		GoogleClientSecret: clientSecret,
		GoogleRedirectURL:  "http://localhost:8080/auth/callback",
		ListenAddr:         "127.0.0.1:8080",
		MetricsAddr:        ":9090",
		LogLevel:           "info",
		LogFormat:          "json",
	}

	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("GOOGLE_REDIRECT_URL"); ok && v != "" {
		cfg.GoogleRedirectURL = v
	}
	if v, ok := os.LookupEnv("MAILGRANT_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("MAILGRANT_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("MAILGRANT_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("MAILGRANT_LOG_FORMAT"); ok && v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}
