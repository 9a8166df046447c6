package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_PORT":           "8080",
		"DB_USER":            "root",
		"DB_HOST":            "localhost",
		"DB_PORT":            "3306",
		"DB_NAME":            "dashboard",
		"JWT_SECRET":         "s1",
		"JWT_REFRESH_SECRET": "s2",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.ExtendedTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "lru", cfg.RateLimit.Store)
	assert.Equal(t, 5, cfg.RateLimit.Policy(PolicyAuth).Max)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Policy(PolicyAuth).Window)
	assert.Equal(t, 100, cfg.RateLimit.Policy("unknown").Max)
	assert.Equal(t, "@every 1m", cfg.Presence.Schedule)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingSecretsReported(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", " ")
	t.Setenv("ACCESS_TOKEN_TTL", "forever")

	_, err := Load()
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.ElementsMatch(t, []string{"JWT_SECRET", "JWT_REFRESH_SECRET"}, cerr.Missing)
	assert.Equal(t, []string{"ACCESS_TOKEN_TTL"}, cerr.Invalid)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_PolicyFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  auth:
    window: 1m
    max: 3
  reports:
    window: 1h
    max: 10
    message: Slow down
`), 0o600))
	t.Setenv("RATE_LIMIT_POLICY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	auth := cfg.RateLimit.Policy(PolicyAuth)
	assert.Equal(t, time.Minute, auth.Window)
	assert.Equal(t, 3, auth.Max)
	assert.NotEmpty(t, auth.Message)
	assert.Equal(t, Policy{Window: time.Hour, Max: 10, Message: "Slow down"}, cfg.RateLimit.Policy("reports"))
}

func TestApplyPolicyYAML_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"bad window":      "policies:\n  auth:\n    window: soon\n",
		"negative max":    "policies:\n  auth:\n    max: -1\n",
		"incomplete new":  "policies:\n  extra:\n    max: 4\n",
		"not yaml at all": "policies: [",
	} {
		c := RateLimitConfig{Policies: defaultPolicies()}
		assert.Error(t, c.applyPolicyYAML([]byte(doc)), name)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_PROBE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestIsProduction(t *testing.T) {
	assert.True(t, Config{Env: "production"}.IsProduction())
	assert.True(t, Config{Env: "PROD"}.IsProduction())
	assert.False(t, Config{Env: "dev"}.IsProduction())
}

func TestLoad_TrustedProxies(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.1.0.0/16, 192.0.2.10")
	cfg, err = Load()
	require.NoError(t, err)
	require.Len(t, cfg.TrustedProxies, 2)
	assert.Equal(t, "10.1.0.0/16", cfg.TrustedProxies[0].String())
	assert.Equal(t, "192.0.2.10/32", cfg.TrustedProxies[1].String())

	t.Setenv("TRUSTED_PROXIES", "10.1.0.0/99")
	_, err = Load()
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"TRUSTED_PROXIES"}, cerr.Invalid)
}
