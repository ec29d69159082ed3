// Package store persists analysis runs, their bins and trend fits in SQLite
// or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chrissnell/radbin/internal/log"
	"github.com/chrissnell/radbin/internal/source"
	"github.com/chrissnell/radbin/pkg/migrate"
)

//go:embed migrations
var migrationFS embed.FS

var ErrNotFound = errors.New("store: run not found")

// Store is a migrated result database.
type Store struct {
	db      *sql.DB
	dialect migrate.Dialect
	logger  *zap.SugaredLogger
}

// Open connects to driver/dsn and applies pending migrations.
func Open(ctx context.Context, driver, dsn string, logger *zap.SugaredLogger) (*Store, error) {
	dialect, err := Dialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := source.OpenDB(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies pending migrations.
func New(ctx context.Context, db *sql.DB, dialect migrate.Dialect, logger *zap.SugaredLogger) (*Store, error) {
	logger = log.OrNop(logger)
	if dialect == migrate.DialectSQLite {
		// a single connection keeps :memory: databases and foreign keys consistent
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	if err := NewMigrator(db, dialect, logger).MigrateUp(ctx); err != nil {
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

// NewMigrator returns a migrator over the embedded schema for dialect.
func NewMigrator(db *sql.DB, dialect migrate.Dialect, logger *zap.SugaredLogger) *migrate.Migrator {
	provider := migrate.NewFSProvider(migrationFS, "migrations/"+string(dialect), "radbin_migrations", dialect)
	return migrate.NewMigrator(db, provider, logger)
}

// Dialect returns the migration dialect for a configured driver.
func Dialect(driver string) (migrate.Dialect, error) {
	name, err := source.DriverName(driver)
	if err != nil {
		return "", err
	}
	if name == "pgx" {
		return migrate.DialectPostgres, nil
	}
	return migrate.DialectSQLite, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != migrate.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
