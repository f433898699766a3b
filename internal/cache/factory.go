package cache

import (
	"context"
	"fmt"

	"github.com/engagement-analysis/advert-sync/internal/config"
	"github.com/engagement-analysis/advert-sync/internal/db"
)

// New opens the cache backend selected by cfg
func New(ctx context.Context, cfg *config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case config.CacheTypeFile, "":
		return NewFileCache(cfg.Dir)
	case config.CacheTypeSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return newSQLCacheOwning(ctx, conn)
	case config.CacheTypeDatabase:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return newSQLCacheOwning(ctx, conn)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func newSQLCacheOwning(ctx context.Context, conn *db.Connection) (Cache, error) {
	c, err := NewSQLCache(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}
