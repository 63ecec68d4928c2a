package store

import (
	"context"
	"database/sql"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// stmtCache keeps prepared statements by query text. Evicted statements are
// closed. A cache of size 0 prepares nothing and runs queries directly.
type stmtCache struct {
	cache *lru.Cache
}

func newStmtCache(size int, logger *zap.Logger) *stmtCache {
	if size <= 0 {
		return &stmtCache{}
	}
	c, err := lru.NewWithEvict(size, func(key, value interface{}) {
		if err := value.(*sql.Stmt).Close(); err != nil {
			logger.Debug("close evicted statement", zap.Any("query", key), zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("statement cache disabled", zap.Error(err))
		return &stmtCache{}
	}
	return &stmtCache{cache: c}
}

// prepare returns a cached statement for query, preparing it on db if needed.
// It returns nil when caching is disabled.
func (c *stmtCache) prepare(ctx context.Context, db *sql.DB, query string) (*sql.Stmt, error) {
	if c == nil || c.cache == nil {
		return nil, nil
	}
	if v, ok := c.cache.Get(query); ok {
		return v.(*sql.Stmt), nil
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, stmt)
	return stmt, nil
}

// purge closes every cached statement.
func (c *stmtCache) purge() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Purge()
}

func (c *stmtCache) len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
