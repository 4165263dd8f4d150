package queue

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open builds a Store from a DSN:
//
//	redis://host:6379/0, rediss://…   RedisStore
//	postgres, postgres://…            PostgresStore on the shared pool
//	memory://                         MemoryStore
//
// The postgres backend reuses pgPool rather than opening a second pool.
func Open(ctx context.Context, dsn, pool string, pgPool *pgxpool.Pool) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("queue URL is required")
	}
	scheme := dsn
	if parsed, err := url.Parse(dsn); err == nil && parsed.Scheme != "" {
		scheme = parsed.Scheme
	}

	switch strings.ToLower(scheme) {
	case "redis", "rediss":
		return OpenRedis(ctx, dsn, pool)
	case "postgres", "postgresql":
		if pgPool == nil {
			return nil, fmt.Errorf("postgres queue backend requires a postgres DATABASE_URL")
		}
		return NewPostgresStore(pgPool, pool), nil
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", scheme)
	}
}
