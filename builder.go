package goLogin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MrEthical07/goLogin/counter"
	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal/challenge"
	"github.com/MrEthical07/goLogin/internal/guard"
	"github.com/MrEthical07/goLogin/internal/tokens"
	"github.com/MrEthical07/goLogin/jwt"
	"github.com/MrEthical07/goLogin/password"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	counters counter.Store
	db       *gorm.DB
	store    credential.Store
	stream   events.Stream
	hasher   password.Hasher
	logger   *zap.Logger
	now      func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the counter store and the
// password-reset and email-verification challenges.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCounterStore overrides the counter store derived from WithRedis.
func (b *Builder) WithCounterStore(store counter.Store) *Builder {
	b.counters = store
	return b
}

// WithDB uses a gorm-backed credential store on db. Tables are migrated by
// Build.
func (b *Builder) WithDB(db *gorm.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithCredentialStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithStream enables event publishing to stream.
func (b *Builder) WithStream(stream events.Stream) *Builder {
	b.stream = stream
	return b
}

func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token issuance and validation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	nowUTC := func() time.Time { return now().UTC() }

	// -------- COUNTERS --------
	counters := b.counters
	if counters == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or counter store required")
		}
		counters = counter.NewRedisStore(b.redis)
	}

	// -------- CREDENTIAL STORE --------
	store := b.store
	if store == nil {
		if b.db == nil {
			return nil, errors.New("credential store or database required")
		}
		gs := credential.NewGormStore(b.db)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := gs.Migrate(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		store = gs
	}

	metrics := NewMetrics(cfg.Metrics)

	g, err := guard.New(counters, cfg.guardConfig(), logger.Named("guard"), guardObserver{m: metrics})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		hasher, err = password.New(cfg.Password.Algorithm, cfg.argonConfig(), cfg.Password.BcryptCost)
		if err != nil {
			return nil, err
		}
	}
	dummy, err := password.DummyHash(hasher)
	if err != nil {
		return nil, fmt.Errorf("derive dummy hash: %w", err)
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		KeyID:         cfg.Token.KeyID,
		Leeway:        cfg.Token.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		guard:     g,
		store:     store,
		hasher:    hasher,
		dummyHash: dummy,
		tokens:    tokens.NewManager(store, jm, cfg.Token.RefreshTTL, nowUTC, logger.Named("tokens")),
		metrics:   metrics,
		logger:    logger,
		now:       nowUTC,
	}

	if b.redis != nil {
		engine.challenges = challenge.NewStore(b.redis, cfg.KeyPrefix)
	}
	if cfg.Events.Enabled && b.stream != nil {
		engine.publisher = events.NewPublisher(cfg.publisherConfig(), b.stream, logger.Named("events"))
	}

	b.built = true

	return engine, nil
}
