package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chrissnell/radbin/internal/analysis"
	"github.com/chrissnell/radbin/internal/binning"
	"github.com/chrissnell/radbin/internal/trend"
)

// RunRecord is the summary row of a stored run.
type RunRecord struct {
	ID            uuid.UUID
	Label         string
	CreatedAt     time.Time
	Mode          binning.Mode
	Source        binning.ExposureSource
	UseScaled     bool
	Alpha         float64
	Window        binning.Window
	Events        int
	Resets        int
	RecommendedK  int
	ExposureTotal float64
}

const insertRun = `INSERT INTO runs (
	id, label, created_ns, mode, source, use_scaled, alpha,
	window_start_ns, window_end_ns, n_events, n_resets, recommended_k, exposure_total
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertBin = `INSERT INTO bins (
	run_id, idx, start_ns, end_ns, n, t, rate, lo, hi,
	gap_n, gap_sum, gap_mean, gap_median, gap_p10, gap_p90, gap_p99, gap_min, gap_max
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertTrend = `INSERT INTO trend_fits (
	run_id, status, se_method, n_bins, converged, iterations, alpha,
	beta0, beta1, se_beta1, z, p_value, beta1_lo, beta1_hi,
	rr_per_hour, rr_lo, rr_hi, slope_per_sd, lrt_p_value, aic, deviance, dispersion,
	suggest_overdispersion, equivalence_rr, tost_p_value, equivalent
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveRun stores a run with its bins and trend fit in one transaction.
func (s *Store) SaveRun(ctx context.Context, label string, res *analysis.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cfg := res.Config
	_, err = tx.ExecContext(ctx, s.rebind(insertRun),
		res.RunID, label, res.CreatedAt.UnixNano(), string(cfg.Mode), string(cfg.Source),
		res.UseScaled, cfg.Alpha, nullNanos(res.Window.Start), nullNanos(res.Window.End),
		res.Events, len(res.Resets), res.RecommendedK, res.ExposureTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(insertBin))
	if err != nil {
		return fmt.Errorf("failed to prepare bin insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range res.Rows {
		g := r.Gap
		_, err := stmt.ExecContext(ctx,
			res.RunID, i, r.Start.UnixNano(), r.End.UnixNano(), r.N, r.T, r.Rate, r.Lo, r.Hi,
			g.N, g.Sum, g.Mean, g.Median, g.P10, g.P90, g.P99, g.Min, g.Max,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bin %d: %w", i, err)
		}
	}

	f := res.Trend
	_, err = tx.ExecContext(ctx, s.rebind(insertTrend),
		res.RunID, string(f.Status), string(f.SEMethod), f.NBins, f.Converged, f.Iterations, f.Alpha,
		f.Beta0, f.Beta1, f.SEBeta1, f.Z, f.PValue, f.Beta1Lo, f.Beta1Hi,
		f.RateRatioPerHour, f.RateRatioLo, f.RateRatioHi, f.SlopePerSD, f.LRTPValue, f.AIC, f.Deviance, f.Dispersion,
		f.SuggestOverdispersion, f.EquivalenceRR, f.TOSTPValue, f.Equivalent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trend fit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Infow("stored run", "run_id", res.RunID, "label", label, "bins", len(res.Rows))
	return nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, label, created_ns, mode, source, use_scaled, alpha,
		window_start_ns, window_end_ns, n_events, n_resets, recommended_k, exposure_total
		FROM runs ORDER BY created_ns DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r            RunRecord
			created      int64
			mode, src    string
			wStart, wEnd sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Label, &created, &mode, &src, &r.UseScaled, &r.Alpha,
			&wStart, &wEnd, &r.Events, &r.Resets, &r.RecommendedK, &r.ExposureTotal); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = fromNanos(created)
		r.Mode = binning.Mode(mode)
		r.Source = binning.ExposureSource(src)
		if wStart.Valid {
			r.Window.Start = fromNanos(wStart.Int64)
		}
		if wEnd.Valid {
			r.Window.End = fromNanos(wEnd.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadRows returns the stored bins of a run in order.
func (s *Store) LoadRows(ctx context.Context, id uuid.UUID) ([]analysis.Row, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		start_ns, end_ns, n, t, rate, lo, hi,
		gap_n, gap_sum, gap_mean, gap_median, gap_p10, gap_p90, gap_p99, gap_min, gap_max
		FROM bins WHERE run_id = ? ORDER BY idx`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bins: %w", err)
	}
	defer rows.Close()

	var out []analysis.Row
	for rows.Next() {
		var (
			r          analysis.Row
			start, end int64
		)
		g := &r.Gap
		if err := rows.Scan(&start, &end, &r.N, &r.T, &r.Rate, &r.Lo, &r.Hi,
			&g.N, &g.Sum, &g.Mean, &g.Median, &g.P10, &g.P90, &g.P99, &g.Min, &g.Max); err != nil {
			return nil, fmt.Errorf("failed to scan bin: %w", err)
		}
		r.Start, r.End = fromNanos(start), fromNanos(end)
		r.TMid = r.Mid()
		r.WidthSeconds = r.Bin.WidthSeconds()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadTrend returns the stored trend fit of a run.
func (s *Store) LoadTrend(ctx context.Context, id uuid.UUID) (trend.Fit, error) {
	var (
		f              trend.Fit
		status, method string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT
		status, se_method, n_bins, converged, iterations, alpha,
		beta0, beta1, se_beta1, z, p_value, beta1_lo, beta1_hi,
		rr_per_hour, rr_lo, rr_hi, slope_per_sd, lrt_p_value, aic, deviance, dispersion,
		suggest_overdispersion, equivalence_rr, tost_p_value, equivalent
		FROM trend_fits WHERE run_id = ?`), id).Scan(
		&status, &method, &f.NBins, &f.Converged, &f.Iterations, &f.Alpha,
		&f.Beta0, &f.Beta1, &f.SEBeta1, &f.Z, &f.PValue, &f.Beta1Lo, &f.Beta1Hi,
		&f.RateRatioPerHour, &f.RateRatioLo, &f.RateRatioHi, &f.SlopePerSD, &f.LRTPValue, &f.AIC, &f.Deviance, &f.Dispersion,
		&f.SuggestOverdispersion, &f.EquivalenceRR, &f.TOSTPValue, &f.Equivalent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return trend.Fit{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return trend.Fit{}, fmt.Errorf("failed to load trend fit: %w", err)
	}
	f.Status = trend.Status(status)
	f.SEMethod = trend.SEMethod(method)
	return f, nil
}

// DeleteRun removes a run and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM trend_fits WHERE run_id = ?`,
		`DELETE FROM bins WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) exists(ctx context.Context, id uuid.UUID) error {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM runs WHERE id = ?`), id).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
