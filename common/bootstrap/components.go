package bootstrap

import (
	"context"
	"fmt"

	"github.com/loomery/loom/common/cache"
	"github.com/loomery/loom/common/config"
	"github.com/loomery/loom/common/crypto"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/metrics"
	"github.com/loomery/loom/common/redis"
)

// Components holds the initialized service dependencies
type Components struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.DB
	Redis   *redis.Client
	Cache   *cache.Layered
	Metrics *metrics.Registry
	Keyring *crypto.Keyring

	cleanupFuncs []func() error
}

// Shutdown runs cleanup functions in reverse order (LIFO)
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks every stateful component
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
