package goSession

import (
	"errors"
	"strings"
	"time"
)

// MaxGraceWindow bounds Session.GraceWindow. A wider window lets a stolen
// token race the legitimate client for longer without a theft verdict.
const MaxGraceWindow = 5 * time.Minute

// Config is the engine configuration. Build clones it, so later changes by the
// caller have no effect on a built Engine.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls how session tokens are signed and verified.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is written to the kid header. When set, VerifyKeys must contain it.
	KeyID      string
	VerifyKeys map[string][]byte
	// EnableAntiCSRF adds an anti-CSRF token to every issued triple.
	EnableAntiCSRF bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session records and the rotation grace window.
type SessionConfig struct {
	// RedisPrefix namespaces session keys when the engine builds its own
	// Redis store.
	RedisPrefix string
	// GraceWindow is how long after a rotation the immediately previous refresh
	// token is still answered with the current triple instead of a theft verdict.
	GraceWindow time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls refresh throttling and the theft response.
type SecurityConfig struct {
	EnableRefreshThrottle   bool
	EnableIPThrottle        bool
	MaxRefreshAttempts      int
	MaxRefreshAttemptsPerIP int
	RefreshCooldownDuration time.Duration
	// RevokeAllOnTheft revokes every session of the affected user, not only the
	// one whose token was replayed.
	RevokeAllOnTheft bool
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the defaults used by [New]. Signing keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Session: SessionConfig{
			RedisPrefix: "gs",
			GraceWindow: 5 * time.Second,
		},
		Security: SecurityConfig{
			EnableRefreshThrottle:   false,
			EnableIPThrottle:        false,
			MaxRefreshAttempts:      20,
			MaxRefreshAttemptsPerIP: 100,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. Key material is checked
// later by the token codec during Build.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.AccessTTL > c.Token.RefreshTTL {
		return errors.New("Token AccessTTL must be <= RefreshTTL")
	}
	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported Token signing method")
	}
	if len(c.Token.PrivateKey) == 0 {
		return errors.New("Token PrivateKey is required")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}
	if c.Token.Audience != "" && strings.TrimSpace(c.Token.Audience) == "" {
		return errors.New("Token Audience must not be blank")
	}
	if c.Token.Issuer != "" && strings.TrimSpace(c.Token.Issuer) == "" {
		return errors.New("Token Issuer must not be blank")
	}

	// Session
	if c.Session.GraceWindow <= 0 {
		return errors.New("Session GraceWindow must be > 0")
	}
	if c.Session.GraceWindow > MaxGraceWindow {
		return errors.New("Session GraceWindow must be <= 5m")
	}
	if c.Session.GraceWindow >= c.Token.RefreshTTL {
		return errors.New("Session GraceWindow must be < Token RefreshTTL")
	}

	// Security
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
		if c.Security.EnableIPThrottle && c.Security.MaxRefreshAttemptsPerIP <= 0 {
			return errors.New("MaxRefreshAttemptsPerIP must be > 0 when IP throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
