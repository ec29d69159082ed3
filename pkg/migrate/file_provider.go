package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var migrationFile = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// FSProvider loads migrations from a filesystem, usually an embed.FS.
// Files are named 001_migration_name.up.sql and 001_migration_name.down.sql.
type FSProvider struct {
	fsys           fs.FS
	dir            string
	migrationTable string
	dialect        Dialect
}

// Dialect selects placeholder and upsert syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// NewFSProvider creates a provider reading dir inside fsys.
func NewFSProvider(fsys fs.FS, dir, migrationTable string, dialect Dialect) *FSProvider {
	if migrationTable == "" {
		migrationTable = "schema_migrations"
	}
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &FSProvider{
		fsys:           fsys,
		dir:            dir,
		migrationTable: migrationTable,
		dialect:        dialect,
	}
}

// GetMigrations loads all migrations, sorted by version
func (p *FSProvider) GetMigrations() ([]Migration, error) {
	byVersion := make(map[int]*Migration)

	err := fs.WalkDir(p.fsys, p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matches := migrationFile.FindStringSubmatch(d.Name())
		if matches == nil {
			return nil
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return fmt.Errorf("invalid version number in file %s: %w", d.Name(), err)
		}

		content, err := fs.ReadFile(p.fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", path, err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version, Name: strings.ReplaceAll(matches[2], "_", " ")}
			byVersion[version] = mig
		}
		if matches[3] == "up" {
			mig.Up = string(content)
		} else {
			mig.Down = string(content)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory %s: %w", p.dir, err)
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// CreateMigrationTable creates the migration tracking table
func (p *FSProvider) CreateMigrationTable(ctx context.Context, db DB) error {
	stamp := "DATETIME"
	if p.dialect == DialectPostgres {
		stamp = "TIMESTAMPTZ"
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			applied_at %s DEFAULT CURRENT_TIMESTAMP
		)
	`, p.migrationTable, stamp)

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the highest applied migration version
func (p *FSProvider) GetCurrentVersion(ctx context.Context, db DB) (int, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", p.migrationTable)

	var version int
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// SetVersion records version as applied and forgets every later version
func (p *FSProvider) SetVersion(ctx context.Context, db DB, version int) error {
	if p.dialect == DialectPostgres {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE version > $1", p.migrationTable), version); err != nil {
			return fmt.Errorf("failed to set version: %w", err)
		}
	} else {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE version > ?", p.migrationTable), version); err != nil {
			return fmt.Errorf("failed to set version: %w", err)
		}
	}
	if version == 0 {
		return nil
	}

	var query string
	if p.dialect == DialectPostgres {
		query = fmt.Sprintf(`
			INSERT INTO %s (version, applied_at)
			VALUES ($1, CURRENT_TIMESTAMP)
			ON CONFLICT (version) DO UPDATE SET applied_at = CURRENT_TIMESTAMP
		`, p.migrationTable)
	} else {
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (version, applied_at)
			VALUES (?, CURRENT_TIMESTAMP)
		`, p.migrationTable)
	}
	if _, err := db.ExecContext(ctx, query, version); err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	return nil
}
