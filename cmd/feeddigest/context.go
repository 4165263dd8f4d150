package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/api/handler"
	"github.com/notifyhub/feeddigest/internal/config"
	"github.com/notifyhub/feeddigest/internal/db"
	"github.com/notifyhub/feeddigest/internal/logging"
	"github.com/notifyhub/feeddigest/internal/queue"
	"github.com/notifyhub/feeddigest/internal/repository"
)

type commandContext struct {
	configFlag *string
	envFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, envFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, envFlag: envFlag}
}

// ensureConfig loads the dotenv file, if any, then the configuration.
// Variables already set in the environment win over the dotenv file.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		if envFile := strings.TrimSpace(*c.envFlag); envFile != "" {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.configErr = fmt.Errorf("load %s: %w", envFile, err)
				return
			}
		}
		c.config, c.configErr = config.Load(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*zap.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

// stores holds the two backing stores shared by every subcommand.
type stores struct {
	repo   repository.Repository
	queue  queue.Store
	checks map[string]handler.Check

	pgPool *pgxpool.Pool
	sqlDB  *sql.DB
}

// openStores connects the relational store selected by DATABASE_URL and the
// queue store selected by QUEUE_URL. Migrations must already be applied.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	dialect, err := db.DialectOf(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	s := &stores{checks: make(map[string]handler.Check)}
	switch dialect {
	case db.DialectPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.pgPool = pool
		s.repo = repository.NewPgRepository(pool)
		s.checks["database"] = pool.Ping
	case db.DialectSQLite:
		sqlDB, err := db.OpenSQLite(ctx, db.SQLitePath(cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		s.sqlDB = sqlDB
		s.repo = repository.NewSQLiteRepository(sqlDB)
		s.checks["database"] = sqlDB.PingContext
	}

	store, err := queue.Open(ctx, cfg.QueueURL, cfg.QueuePool, s.pgPool)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	s.queue = store
	s.checks["queue"] = func(ctx context.Context) error {
		_, err := store.Keys(ctx)
		return err
	}
	return s, nil
}

func (s *stores) Close() {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}
