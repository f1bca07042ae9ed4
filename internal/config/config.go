// Package config loads the sessiond server configuration from the environment
// and an optional .env file using Viper.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/api"
)

// Store backends accepted by SESSIOND_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g. :8080).
	Addr string `mapstructure:"SESSIOND_ADDR"`
	// Store selects the session backend: memory, redis, postgres or sqlite.
	Store string `mapstructure:"SESSIOND_STORE"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	// LogLevel is a slog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	// DatabaseURL is the Postgres DSN used when Store is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SQLitePath is the database file used when Store is sqlite.
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	// PurgeInterval is how often expired rows are deleted from SQL stores.
	// Zero disables purging.
	PurgeInterval time.Duration `mapstructure:"PURGE_INTERVAL"`

	// TokenSigningMethod is ed25519 or hs256.
	TokenSigningMethod string `mapstructure:"TOKEN_SIGNING_METHOD"`
	// TokenPrivateKey is PEM text, a path to a PEM file, or for hs256 the raw
	// shared secret.
	TokenPrivateKey string `mapstructure:"TOKEN_PRIVATE_KEY"`
	// TokenPublicKey is optional PEM text or path; derived from the private key
	// when empty.
	TokenPublicKey string `mapstructure:"TOKEN_PUBLIC_KEY"`
	// TokenEphemeralKey generates a throwaway ed25519 key when no private key is
	// configured. Tokens do not survive a restart. Development only.
	TokenEphemeralKey bool          `mapstructure:"TOKEN_EPHEMERAL_KEY"`
	TokenKeyID        string        `mapstructure:"TOKEN_KEY_ID"`
	TokenIssuer       string        `mapstructure:"TOKEN_ISSUER"`
	TokenAudience     string        `mapstructure:"TOKEN_AUDIENCE"`
	TokenAccessTTL    time.Duration `mapstructure:"TOKEN_ACCESS_TTL"`
	TokenRefreshTTL   time.Duration `mapstructure:"TOKEN_REFRESH_TTL"`
	TokenAntiCSRF     bool          `mapstructure:"TOKEN_ANTI_CSRF"`

	GraceWindow        time.Duration `mapstructure:"GRACE_WINDOW"`
	RefreshThrottle    bool          `mapstructure:"REFRESH_THROTTLE"`
	MaxRefreshAttempts int           `mapstructure:"MAX_REFRESH_ATTEMPTS"`
	RevokeAllOnTheft   bool          `mapstructure:"REVOKE_ALL_ON_THEFT"`

	CookieDomain   string `mapstructure:"COOKIE_DOMAIN"`
	CookieSecure   bool   `mapstructure:"COOKIE_SECURE"`
	CookieSameSite string `mapstructure:"COOKIE_SAME_SITE"`

	// KafkaBrokers is a comma-separated broker list. When set, audit events
	// are published to KafkaAuditTopic.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic string `mapstructure:"KAFKA_AUDIT_TOPIC"`
	// AuditLog writes audit events to the server log.
	AuditLog bool `mapstructure:"AUDIT_LOG"`
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing file is fine

	v.AutomaticEnv()

	v.SetDefault("SESSIOND_ADDR", ":8080")
	v.SetDefault("SESSIOND_STORE", StoreMemory)
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "gs")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "")
	v.SetDefault("PURGE_INTERVAL", "10m")
	v.SetDefault("TOKEN_SIGNING_METHOD", "ed25519")
	v.SetDefault("TOKEN_PRIVATE_KEY", "")
	v.SetDefault("TOKEN_PUBLIC_KEY", "")
	v.SetDefault("TOKEN_EPHEMERAL_KEY", false)
	v.SetDefault("TOKEN_KEY_ID", "")
	v.SetDefault("TOKEN_ISSUER", "")
	v.SetDefault("TOKEN_AUDIENCE", "")
	v.SetDefault("TOKEN_ACCESS_TTL", "15m")
	v.SetDefault("TOKEN_REFRESH_TTL", "168h") // 7d
	v.SetDefault("TOKEN_ANTI_CSRF", false)
	v.SetDefault("GRACE_WINDOW", "5s")
	v.SetDefault("REFRESH_THROTTLE", false)
	v.SetDefault("MAX_REFRESH_ATTEMPTS", 20)
	v.SetDefault("REVOKE_ALL_ON_THEFT", false)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAME_SITE", "lax")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "session-audit")
	v.SetDefault("AUDIT_LOG", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabaseURL reads only DATABASE_URL from .env and the environment. The
// migration runner needs nothing else.
func DatabaseURL() string {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	return v.GetString("DATABASE_URL")
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("config: SESSIOND_ADDR must be set")
	}

	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when SESSIOND_STORE=redis")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when SESSIOND_STORE=postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH must be set when SESSIOND_STORE=sqlite")
		}
	default:
		return fmt.Errorf("config: unknown SESSIOND_STORE %q", c.Store)
	}

	if c.RefreshThrottle && c.RedisAddr == "" {
		return errors.New("config: REFRESH_THROTTLE requires REDIS_ADDR")
	}
	if c.TokenPrivateKey == "" && !c.TokenEphemeralKey {
		return errors.New("config: TOKEN_PRIVATE_KEY must be set")
	}
	if c.TokenEphemeralKey && !strings.EqualFold(c.TokenSigningMethod, "ed25519") {
		return errors.New("config: TOKEN_EPHEMERAL_KEY requires TOKEN_SIGNING_METHOD=ed25519")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("config: SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.PurgeInterval < 0 {
		return errors.New("config: PURGE_INTERVAL must be >= 0")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q", c.LogLevel)
	}
	return level, nil
}

// KafkaBrokersList returns the broker addresses from the comma-separated
// KafkaBrokers. An empty list disables the Kafka audit sink.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CookiePolicy returns the cookie attributes served by the HTTP layer.
func (c *Config) CookiePolicy() api.CookiePolicy {
	policy := api.DefaultCookiePolicy()
	policy.Domain = c.CookieDomain
	policy.Secure = c.CookieSecure
	policy.SameSite = strings.ToLower(c.CookieSameSite)
	return policy
}

// EngineConfig maps the server settings onto the engine configuration and
// loads key material.
func (c *Config) EngineConfig() (goSession.Config, error) {
	cfg := goSession.DefaultConfig()

	cfg.Token.SigningMethod = strings.ToLower(c.TokenSigningMethod)
	cfg.Token.AccessTTL = c.TokenAccessTTL
	cfg.Token.RefreshTTL = c.TokenRefreshTTL
	cfg.Token.Issuer = c.TokenIssuer
	cfg.Token.Audience = c.TokenAudience
	cfg.Token.KeyID = c.TokenKeyID
	cfg.Token.EnableAntiCSRF = c.TokenAntiCSRF

	switch {
	case c.TokenPrivateKey != "":
		priv, err := readKey(c.TokenPrivateKey, cfg.Token.SigningMethod == "hs256")
		if err != nil {
			return goSession.Config{}, fmt.Errorf("config: TOKEN_PRIVATE_KEY: %w", err)
		}
		cfg.Token.PrivateKey = priv
	case c.TokenEphemeralKey:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return goSession.Config{}, fmt.Errorf("config: generate ephemeral key: %w", err)
		}
		cfg.Token.PrivateKey = priv
	}
	if c.TokenPublicKey != "" {
		pub, err := readKey(c.TokenPublicKey, false)
		if err != nil {
			return goSession.Config{}, fmt.Errorf("config: TOKEN_PUBLIC_KEY: %w", err)
		}
		cfg.Token.PublicKey = pub
	}
	if c.TokenKeyID != "" {
		verify := cfg.Token.PublicKey
		if verify == nil && cfg.Token.SigningMethod == "hs256" {
			verify = cfg.Token.PrivateKey
		}
		if verify != nil {
			cfg.Token.VerifyKeys = map[string][]byte{c.TokenKeyID: verify}
		}
	}

	cfg.Session.RedisPrefix = c.RedisPrefix
	cfg.Session.GraceWindow = c.GraceWindow

	cfg.Security.EnableRefreshThrottle = c.RefreshThrottle
	cfg.Security.MaxRefreshAttempts = c.MaxRefreshAttempts
	cfg.Security.RevokeAllOnTheft = c.RevokeAllOnTheft

	cfg.Audit.Enabled = c.AuditLog || len(c.KafkaBrokersList()) > 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	if err := cfg.Validate(); err != nil {
		return goSession.Config{}, err
	}
	return cfg, nil
}

// readKey returns PEM text as-is, reads a file path, or for a shared secret
// falls back to the raw value.
func readKey(value string, allowRaw bool) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "-----BEGIN") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err == nil {
		return data, nil
	}
	if allowRaw && errors.Is(err, os.ErrNotExist) {
		return []byte(value), nil
	}
	return nil, err
}
