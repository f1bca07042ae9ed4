package goSession

import (
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use and not safe for
// concurrent use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  session.Store

	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time
	newHandle func() string

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used by the refresh throttle and, when no
// store is supplied with WithStore, by a Redis session store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the session store. It takes precedence over the Redis store
// implied by WithRedis.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithAuditSink sets the audit sink. Events are only emitted when
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for operational warnings. The default
// discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for token issue times, expiry checks and grace
// window decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithHandleGenerator overrides the session handle source. The default is
// uuid.NewString. Handles must be unique across the store.
func (b *Builder) WithHandleGenerator(next func() string) *Builder {
	b.newHandle = next
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. A Builder can
// be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	newHandle := b.newHandle
	if newHandle == nil {
		newHandle = uuid.NewString
	}

	// -------- SESSION STORE --------
	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("session store or redis client required")
		}
		store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	}

	// -------- TOKEN CODEC --------
	codec, err := token.NewCodec(token.Config{
		AccessTTL:      cfg.Token.AccessTTL,
		RefreshTTL:     cfg.Token.RefreshTTL,
		SigningMethod:  token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:     cfg.Token.PrivateKey,
		PublicKey:      cfg.Token.PublicKey,
		Issuer:         cfg.Token.Issuer,
		Audience:       cfg.Token.Audience,
		Leeway:         cfg.Token.Leeway,
		KeyID:          cfg.Token.KeyID,
		VerifyKeys:     cfg.Token.VerifyKeys,
		EnableAntiCSRF: cfg.Token.EnableAntiCSRF,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}

	// -------- REFRESH THROTTLE --------
	var limiter *rate.Limiter
	if cfg.Security.EnableRefreshThrottle {
		if b.redis == nil {
			return nil, errors.New("refresh throttle requires redis client")
		}
		limiter = rate.New(b.redis, rate.Config{
			EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
			EnableIPThrottle:        cfg.Security.EnableIPThrottle,
			MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
			MaxRefreshAttemptsPerIP: cfg.Security.MaxRefreshAttemptsPerIP,
			RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
		})
	}

	engine := &Engine{
		config:  cfg,
		store:   store,
		codec:   codec,
		limiter: limiter,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		now:     now,
	}

	// -------- FLOWS --------
	refreshDeps := flows.RefreshDeps{
		Codec:           codec,
		Store:           store,
		ClientIPFromCtx: clientIPFromContext,
		Now:             now,
		GraceWindow:     cfg.Session.GraceWindow,
		Warn:            logger.Warn,
	}
	if limiter != nil {
		refreshDeps.RateLimiter = limiter
	}
	engine.flows = flows.New(flows.Deps{
		Create: flows.CreateDeps{
			Codec:     codec,
			Store:     store,
			Now:       now,
			NewHandle: newHandle,
		},
		Refresh: refreshDeps,
		Revoke: flows.RevokeDeps{
			Store: store,
		},
	})

	b.built = true
	return engine, nil
}
