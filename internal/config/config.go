// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Error reports required variables that are unset or unparsable.  The
// process must not serve traffic when Load returns one.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required env var(s): "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid env var(s): "+strings.Join(e.Invalid, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// Config holds all runtime configuration values.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DBUser string
	DBPass string
	DBHost string
	DBPort string
	DBName string

	JWTSecret        string
	JWTRefreshSecret string
	JWTIssuer        string
	AccessTTL        time.Duration
	ExtendedTTL      time.Duration
	RefreshTTL       time.Duration
	BcryptCost       int

	// ActivityTimeout bounds one detached audit write.
	ActivityTimeout time.Duration
	// TouchTimeout bounds the best-effort presence update done per request.
	TouchTimeout time.Duration

	// TrustedProxies are the peers whose X-Forwarded-For is believed when
	// deriving the client IP.  Empty means the TCP peer address is used.
	TrustedProxies []*net.IPNet

	RateLimit RateLimitConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Broker    BrokerConfig
	Presence  PresenceConfig
}

// IsProduction reports whether internal error details must be hidden.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// LoadDotEnv reads the given files (".env" by default) into the process
// environment without overriding variables that are already set.  Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from the environment.  Every required variable
// that is missing or malformed is reported in a single *Error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     l.must("APP_PORT"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBUser: l.must("DB_USER"),
		DBPass: envStr("DB_PASS", ""),
		DBHost: l.must("DB_HOST"),
		DBPort: l.must("DB_PORT"),
		DBName: l.must("DB_NAME"),

		JWTSecret:        l.must("JWT_SECRET"),
		JWTRefreshSecret: l.must("JWT_REFRESH_SECRET"),
		JWTIssuer:        envStr("JWT_ISSUER", "admin-dashboard-api"),
		AccessTTL:        l.durOr("ACCESS_TOKEN_TTL", 7*24*time.Hour),
		ExtendedTTL:      l.durOr("EXTENDED_TOKEN_TTL", 30*24*time.Hour),
		RefreshTTL:       l.durOr("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		BcryptCost:       l.intOr("BCRYPT_COST", 12),

		ActivityTimeout: l.durOr("ACTIVITY_WRITE_TIMEOUT", 5*time.Second),
		TouchTimeout:    l.durOr("PRESENCE_TOUCH_TIMEOUT", 2*time.Second),

		TrustedProxies: l.cidrs("TRUSTED_PROXIES"),

		Cache:    LoadCacheConfig(),
		Redis:    LoadRedisConfig(),
		Broker:   LoadBrokerConfig(),
		Presence: LoadPresenceConfig(),
	}

	rl, err := LoadRateLimitConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimit = rl

	if err := l.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadLogSettings reads LOG_LEVEL and APP_ENV for binaries that do not need
// the full Config.
func LoadLogSettings() (level string, production bool) {
	c := Config{Env: envStr("APP_ENV", "dev"), LogLevel: envStr("LOG_LEVEL", "info")}
	return c.LogLevel, c.IsProduction()
}
