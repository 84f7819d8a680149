package commands

import (
	"context"
	"fmt"

	"github.com/gaborage/twinclient/cache"
	"github.com/gaborage/twinclient/cache/file"
	"github.com/gaborage/twinclient/cache/memory"
	"github.com/gaborage/twinclient/cache/redis"
	"github.com/gaborage/twinclient/config"
)

// openStore creates the session store named by cfg.Backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (cache.Store, error) {
	switch cfg.Backend {
	case cache.BackendMemory:
		return memory.New(), nil
	case cache.BackendFile:
		return file.New(cfg.File.Dir)
	case cache.BackendRedis:
		return redis.NewClient(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
