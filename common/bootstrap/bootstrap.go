package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomery/loom/common/cache"
	"github.com/loomery/loom/common/config"
	"github.com/loomery/loom/common/crypto"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/metrics"
	"github.com/loomery/loom/common/redis"
)

// Setup initializes service components in dependency order:
// config, logger, database, redis, cache, metrics, keyring.
// This is the entry point for every service binary.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	if !options.skipDB {
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})
	}

	if !options.skipRedis {
		raw := goredis.NewClient(&goredis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		if err := raw.Ping(ctx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		components.Redis = redis.NewClient(raw, components.Logger)
		components.addCleanup(func() error {
			return components.Redis.Close()
		})
	}

	components.Metrics = metrics.NewRegistry()

	if !options.skipCache && components.Config.Cache.Enabled {
		var l2 cache.Store
		if components.Redis != nil && components.Config.Cache.UseRedisL2 {
			l2 = cache.NewRedisStore(components.Redis, "cache:")
		}
		components.Cache = cache.NewLayered(cache.Options{
			L1Capacity:    components.Config.Cache.L1Capacity,
			DefaultTTL:    components.Config.Cache.DefaultTTL,
			SweepInterval: components.Config.Cache.SweepInterval,
		}, l2, components.Metrics, components.Logger)
		components.addCleanup(func() error {
			components.Cache.Close()
			return nil
		})
	}

	if len(components.Config.Crypto.Keys) > 0 {
		components.Keyring, err = crypto.NewKeyring(
			components.Config.Crypto.Keys,
			components.Config.Crypto.ActiveKeyID,
		)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("build keyring: %w", err)
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"cache", components.Cache != nil,
		"keyring", components.Keyring != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
