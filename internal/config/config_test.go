package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailgrant/mailgrant/internal/crypt"
)

func validEnv(t *testing.T) {
	t.Helper()
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	t.Setenv("FERNET_KEY", crypt.KeyToBase64(key))
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
}

func TestLoad_Defaults(t *testing.T) {
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mailgrant.db", cfg.DatabaseURL)
	assert.Equal(t, "http://localhost:8080/auth/callback", cfg.GoogleRedirectURL)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Len(t, cfg.EncryptionKey, crypt.KeySize)
}

func TestLoad_Overrides(t *testing.T) {
	validEnv(t)
	t.Setenv("DATABASE_URL", "/var/lib/mailgrant/creds.db")
	t.Setenv("GOOGLE_REDIRECT_URL", "https://mail.example.com/auth/callback")
	t.Setenv("MAILGRANT_LISTEN_ADDR", ":8888")
	t.Setenv("MAILGRANT_METRICS_ADDR", "")
	t.Setenv("MAILGRANT_LOG_LEVEL", "debug")
	t.Setenv("MAILGRANT_LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mailgrant/creds.db", cfg.DatabaseURL)
	assert.Equal(t, "https://mail.example.com/auth/callback", cfg.GoogleRedirectURL)
	assert.Equal(t, ":8888", cfg.ListenAddr)
	assert.Equal(t, "", cfg.MetricsAddr, "empty metrics addr disables the metrics server")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingFernetKey(t *testing.T) {
	validEnv(t)
	t.Setenv("FERNET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FERNET_KEY")
}

func TestLoad_MalformedFernetKey(t *testing.T) {
	validEnv(t)
	t.Setenv("FERNET_KEY", "not-a-valid-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FERNET_KEY")
}

func TestLoad_MissingGoogleCredentials(t *testing.T) {
	validEnv(t)
	t.Setenv("GOOGLE_CLIENT_ID", "")

	_, err := Load()
	assert.Error(t, err)

	validEnv(t)
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	_, err = Load()
	assert.Error(t, err)
}
