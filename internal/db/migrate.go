package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Dialect is the relational backend selected by DATABASE_URL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectOf classifies a database URL.
func DialectOf(databaseURL string) (Dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

// SQLitePath extracts the file path from a sqlite:// URL.
func SQLitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Migrate runs all pending up-migrations embedded for the URL's dialect.
// It is idempotent: already-applied migrations are skipped.
func Migrate(databaseURL string) error {
	dialect, err := DialectOf(databaseURL)
	if err != nil {
		return err
	}

	var migrationURL string
	switch dialect {
	case DialectPostgres:
		// golang-migrate's pgx/v5 driver expects the scheme "pgx5://".
		rest := strings.TrimPrefix(strings.TrimPrefix(databaseURL, "postgresql://"), "postgres://")
		migrationURL = "pgx5://" + rest
	case DialectSQLite:
		migrationURL = "sqlite://" + SQLitePath(databaseURL)
	}

	src, err := iofs.New(migrationFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
