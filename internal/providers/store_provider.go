package providers

import (
	"context"
	"fmt"
	"freshanon/internal/storage"
	"freshanon/internal/storage/memory"
	"freshanon/internal/storage/postgres"
	"freshanon/internal/storage/sqlite"
	"freshanon/internal/structures"
	"time"
)

const storeConnectTimeout = 10 * time.Second

// NewStoreProvider opens the configured pool/session/rematch backend.
func NewStoreProvider(conf *structures.Config, logger Logger) (storage.Store, error) {
	switch conf.Store.Backend {
	case "", "memory":
		logger.Infof(TypeStore, "Store: memory")
		return memory.NewStore(), nil
	case "sqlite":
		s, err := sqlite.Open(conf.Store.SqlitePath, conf.Store.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Infof(TypeStore, "Store: sqlite %s", conf.Store.SqlitePath)
		return s, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
		defer cancel()
		s, err := postgres.Open(ctx, conf.Store.PostgresDSN, conf.Store.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Infof(TypeStore, "Store: postgres")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.Store.Backend)
	}
}
