package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/radbin/internal/events"
	"github.com/chrissnell/radbin/internal/exposure"
	"github.com/chrissnell/radbin/internal/log"
)

// DriverName maps a configured driver to its database/sql name. SQLite is
// served by modernc.org/sqlite, PostgreSQL and TimescaleDB by pgx.
func DriverName(driver string) (string, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "pgx", "postgres", "postgresql", "timescaledb":
		return "pgx", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}

// OpenDB opens and pings a database.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, err := DriverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}
	return db, nil
}

// SQLSource reads the beam and counter tables with two SELECT statements.
type SQLSource struct {
	DB           *sql.DB
	BeamQuery    string
	CounterQuery string
}

func (s SQLSource) Beam(ctx context.Context) (*Table, error) {
	return QueryTable(ctx, s.DB, s.BeamQuery)
}

func (s SQLSource) Counter(ctx context.Context) (*Table, error) {
	return QueryTable(ctx, s.DB, s.CounterQuery)
}

// QueryTable runs query and collects every result column. []byte values
// are copied into strings.
func QueryTable(ctx context.Context, db *sql.DB, query string, args ...any) (*Table, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols := make([][]any, len(names))
	dest := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			cols[i] = append(cols[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t := NewTable()
	for i, name := range names {
		if cols[i] == nil {
			cols[i] = []any{}
		}
		if err := t.Add(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Source supplies the two raw tables of a run.
type Source interface {
	Beam(ctx context.Context) (*Table, error)
	Counter(ctx context.Context) (*Table, error)
}

// Load reads both tables from src and converts them with cols.
func Load(ctx context.Context, src Source, cols Columns, logger *zap.SugaredLogger) ([]exposure.Sample, []events.CounterSample, error) {
	logger = log.OrNop(logger)

	bt, err := src.Beam(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading beam table: %w", err)
	}
	beam, err := BeamSamples(bt, cols.Beam)
	if err != nil {
		return nil, nil, err
	}
	if dropped := bt.Len - len(beam); dropped > 0 {
		logger.Warnw("dropped beam rows with unreadable time", "rows", dropped)
	}

	ct, err := src.Counter(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading counter table: %w", err)
	}
	counter, err := CounterSamples(ct, cols.Counter)
	if err != nil {
		return nil, nil, err
	}
	if dropped := ct.Len - len(counter); dropped > 0 {
		logger.Warnw("dropped counter rows with unreadable time", "rows", dropped)
	}

	logger.Debugw("inputs loaded", "beam_rows", len(beam), "counter_rows", len(counter))
	return beam, counter, nil
}
