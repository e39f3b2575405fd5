// Package sqlite stores runs, stations and observations in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/weather-archive-etl/internal/consolidate"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/report"
)

//go:embed schema.sql
var schema string

// Store writes runs to SQLite. It implements pipeline.Sink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "sqlite")}, nil
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Close() error { return s.db.Close() }

// Write stores the run, its outcomes, the stations and every observation in
// one transaction. Station rows are upserted; runs are append-only.
func (s *Store) Write(ctx context.Context, ds *consolidate.Dataset, rep *report.Report) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck // the original error wins
		}
	}()

	runID := rep.RunID.String()
	if err = insertRun(ctx, tx, rep); err != nil {
		return err
	}
	if err = insertOutcomes(ctx, tx, runID, rep.Outcomes()); err != nil {
		return err
	}
	if err = upsertStations(ctx, tx, ds); err != nil {
		return err
	}
	if err = insertObservations(ctx, tx, runID, ds.Observations()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("run stored", "run_id", runID, "observations", ds.Len())
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, rep *report.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs
		(run_id, archive, year, started_at, finished_at, incomplete, fatal,
		 files_processed, files_failed, rows_ingested, rows_rejected, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID.String(), rep.Archive, nullInt(rep.Year),
		rep.StartedAt.Format(time.RFC3339Nano), rep.FinishedAt.Format(time.RFC3339Nano),
		rep.Incomplete, nullString(rep.Fatal),
		rep.FilesProcessed(), rep.FilesFailed(), rep.RowsIngested(), rep.RowsRejected(), rep.Duplicates(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func insertOutcomes(ctx context.Context, tx *sql.Tx, runID string, outcomes []report.FileOutcome) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_outcomes
		(run_id, ordinal, member, status, reason, detail, station_id,
		 rows_parsed, rows_rejected, rows_accepted, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, runID, o.Ordinal, o.Member, string(o.Status),
			nullString(string(o.Reason)), nullString(o.Detail), nullString(o.StationID),
			o.RowsParsed, o.RowsRejected, o.RowsAccepted, o.Duplicates); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Member, err)
		}
	}
	return nil
}

func upsertStations(ctx context.Context, tx *sql.Tx, ds *consolidate.Dataset) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stations
		(station_id, name, region, state, latitude, longitude, altitude, founded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			state = excluded.state,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			founded_at = excluded.founded_at`)
	if err != nil {
		return fmt.Errorf("prepare station upsert: %w", err)
	}
	defer stmt.Close()

	for _, id := range ds.StationIDs() {
		m, _ := ds.Station(id)
		var founded any
		if m.FoundedAt != nil {
			founded = m.FoundedAt.Format("2006-01-02")
		}
		if _, err := stmt.ExecContext(ctx, m.ID, nullString(m.Name), nullString(m.Region), nullString(m.State),
			m.Latitude, m.Longitude, m.Altitude, founded); err != nil {
			return fmt.Errorf("upsert station %s: %w", id, err)
		}
	}
	return nil
}

func observationInsert() string {
	cols := []string{"run_id", "station_id", "observed_at"}
	for _, k := range domain.Kinds() {
		cols = append(cols, k.String())
	}
	cols = append(cols, "validity_flags")
	return fmt.Sprintf("INSERT INTO observations (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
}

func insertObservations(ctx context.Context, tx *sql.Tx, runID string, obs []domain.Observation) error {
	stmt, err := tx.PrepareContext(ctx, observationInsert())
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, 0, domain.NumKinds+4)
	for i := range obs {
		o := &obs[i]
		args = append(args[:0], runID, o.StationID, o.Timestamp.Format(domain.TimestampLayout))
		for _, k := range domain.Kinds() {
			if v, ok := o.Value(k); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		args = append(args, o.ValidityString())
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert observation %s@%s: %w", o.StationID, args[2], err)
		}
	}
	return nil
}

// CountObservations returns how many observations a run stored.
func (s *Store) CountObservations(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// Value returns one stored measurement. ok is false when the value was absent.
func (s *Store) Value(ctx context.Context, runID, stationID string, at time.Time, k domain.Kind) (v float64, ok bool, err error) {
	var nv sql.NullFloat64
	q := fmt.Sprintf(`SELECT %s FROM observations WHERE run_id = ? AND station_id = ? AND observed_at = ?`, k.String())
	if err := s.db.QueryRowContext(ctx, q, runID, stationID, at.Format(domain.TimestampLayout)).Scan(&nv); err != nil {
		return 0, false, err
	}
	return nv.Float64, nv.Valid, nil
}

// Station returns the stored metadata for id.
func (s *Store) Station(ctx context.Context, id string) (domain.StationMetadata, error) {
	var (
		m                domain.StationMetadata
		name, region, st sql.NullString
		lat, lon, alt    sql.NullFloat64
		founded          sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT station_id, name, region, state, latitude, longitude, altitude, founded_at
		FROM stations WHERE station_id = ?`, id).Scan(&m.ID, &name, &region, &st, &lat, &lon, &alt, &founded)
	if err != nil {
		return m, err
	}
	m.Name, m.Region, m.State = name.String, region.String, st.String
	m.Latitude, m.Longitude, m.Altitude = floatPtr(lat), floatPtr(lon), floatPtr(alt)
	if founded.Valid {
		if t, err := time.Parse("2006-01-02", founded.String); err == nil {
			m.FoundedAt = &t
		}
	}
	return m, nil
}

// RunStatus returns how a stored run ended: its failed-file count and
// whether it was incomplete.
func (s *Store) RunStatus(ctx context.Context, runID string) (filesFailed int, incomplete bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT files_failed, incomplete FROM runs WHERE run_id = ?`, runID).
		Scan(&filesFailed, &incomplete)
	return filesFailed, incomplete, err
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
