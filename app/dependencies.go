package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/config"
	"github.com/upb/omnichat-gateway/internal/clock"
	"github.com/upb/omnichat-gateway/middleware"
	"github.com/upb/omnichat-gateway/repositories"
	"github.com/upb/omnichat-gateway/repositories/memory"
	"github.com/upb/omnichat-gateway/repositories/postgres"
	"github.com/upb/omnichat-gateway/repositories/redis"
	"github.com/upb/omnichat-gateway/repositories/sqlite"
	"github.com/upb/omnichat-gateway/services/challenge"
	"github.com/upb/omnichat-gateway/services/orchestrator"
	"github.com/upb/omnichat-gateway/services/providers"
	"github.com/upb/omnichat-gateway/services/providers/factory"
	"github.com/upb/omnichat-gateway/services/ratelimit"
	"github.com/upb/omnichat-gateway/services/usage"
)

// challengeTokenBytes is the entropy of one issued challenge
const challengeTokenBytes = 32

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Clock  clock.Clock
	Store  repositories.KVStore

	// Services
	Challenges       *challenge.Store
	Usage            *usage.Ledger
	Providers        *providers.Registry
	State            *orchestrator.State
	Orchestrator     *orchestrator.Service
	ChallengeLimiter *ratelimit.KeyedLimiter

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	tokens   clock.TokenSource
	adapters *factory.RegistryBuilder
	closed   bool
}

// Option customizes how dependencies are built
type Option func(*Dependencies)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(d *Dependencies) { d.Clock = clk }
}

// WithTokenSource replaces the random challenge generator
func WithTokenSource(tokens clock.TokenSource) Option {
	return func(d *Dependencies) { d.tokens = tokens }
}

// WithStore uses an already opened key-value store instead of the configured backend
func WithStore(store repositories.KVStore) Option {
	return func(d *Dependencies) { d.Store = store }
}

// WithAdapterBuilder overrides how adapters of one provider kind are built
func WithAdapterBuilder(kind string, builder factory.Builder) Option {
	return func(d *Dependencies) { d.adapters.WithBuilder(kind, builder) }
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.System{},
		tokens:   clock.NewRandomTokens(challengeTokenBytes),
		adapters: factory.NewRegistryBuilder(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	if deps.Store == nil {
		store, err := deps.openStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		deps.Store = store
	}

	if err := deps.initProviders(cfg.Providers); err != nil {
		_ = deps.Store.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Backend),
		zap.Strings("providers", deps.Providers.Names()))
	return deps, nil
}

// openStore connects the configured key-value backend
func (d *Dependencies) openStore(ctx context.Context, cfg config.StoreConfig) (repositories.KVStore, error) {
	switch cfg.Backend {
	case config.StoreMemory, "":
		d.Logger.Warn("using in-process memory store; challenges and usage do not survive restarts")
		return memory.NewStore(d.Clock), nil

	case config.StorePostgres:
		db, err := postgres.NewDB(ctx, cfg.Database, d.Logger)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		store := postgres.NewKVStore(db.DB, d.Clock, d.Logger)
		// expiry is lazy at read time; drop rows left over from earlier runs
		if n, err := store.PurgeExpired(ctx); err != nil {
			d.Logger.Warn("failed to purge expired keys", zap.Error(err))
		} else if n > 0 {
			d.Logger.Info("purged expired keys", zap.Int64("count", n))
		}
		return store, nil

	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redis.New(client, redis.WithKeyPrefix(cfg.Redis.KeyPrefix))

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		d.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
		return store, nil

	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, d.Clock)
		if err != nil {
			return nil, err
		}
		d.Logger.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown KV backend %q", cfg.Backend)
	}
}

// initProviders builds one adapter per configured provider
func (d *Dependencies) initProviders(cfgs []config.ProviderConfig) error {
	registry, err := d.adapters.Build(ToProviderConfigs(cfgs))
	if err != nil {
		return err
	}

	if registry.Len() == 0 {
		d.Logger.Warn("no LLM providers configured")
	}
	for _, p := range registry.Ordered() {
		d.Logger.Info("provider registered",
			zap.String("provider", p.Name),
			zap.String("kind", p.Kind),
			zap.Int("priority", p.Priority),
			zap.Int64("daily_limit", p.DailyLimit))
	}

	d.Providers = registry
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) {
	d.Challenges = challenge.NewStore(d.Store, d.Clock, d.tokens, challenge.Config{
		Secret:      []byte(cfg.Auth.SharedSecret),
		TTL:         cfg.Auth.ChallengeTTL,
		DriftWindow: cfg.Auth.DriftWindow,
	}, d.Logger.Named("challenge"))

	d.Usage = usage.NewLedger(d.Store, d.Clock)

	d.State = orchestrator.NewState(orchestrator.StateConfig{
		CacheTTL:         cfg.Orchestrator.CacheTTL,
		CacheMaxEntries:  cfg.Orchestrator.CacheMaxEntries,
		CircuitThreshold: cfg.Orchestrator.CircuitThreshold,
		CircuitCooldown:  cfg.Orchestrator.CircuitCooldown,
	}, d.Clock)

	d.Orchestrator = orchestrator.NewService(d.Providers, d.Usage, d.State, d.Logger.Named("orchestrator"))

	d.ChallengeLimiter = ratelimit.NewKeyedLimiter(ratelimit.Config{
		PerMinute: cfg.Auth.ChallengesPerMinute,
		Burst:     cfg.Auth.ChallengeBurst,
	}, d.Clock)

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Challenges, d.Logger.Named("auth"))
}

// ToProviderConfigs converts configuration entries into registry configs
func ToProviderConfigs(cfgs []config.ProviderConfig) []providers.Config {
	out := make([]providers.Config, 0, len(cfgs))
	for _, c := range cfgs {
		caps := make([]providers.Capability, 0, len(c.SpecializesIn))
		for _, s := range c.SpecializesIn {
			caps = append(caps, providers.Capability(s))
		}
		out = append(out, providers.Config{
			Name:             c.Name,
			Kind:             c.Kind,
			Priority:         c.Priority,
			DailyLimit:       c.DailyLimit,
			SpecializesIn:    caps,
			FallbackEligible: c.IsFallbackEligible(),
			Model:            c.Model,
			BaseURL:          c.BaseURL,
			APIKey:           c.APIKey,
			Timeout:          c.Timeout,
		})
	}
	return out
}

// Close gracefully shuts down all dependencies. It is safe to call twice.
func (d *Dependencies) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.Logger.Info("shutting down dependencies")

	var errs []error
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		} else {
			d.Logger.Info("store closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
