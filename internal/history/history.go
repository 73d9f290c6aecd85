// Package history archives finished runs in a SQLite database. Runs are
// written once, when they end, and are only read back for reporting.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/CZERTAINLY/burnin/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyRecorded = errors.New("already recorded")
)

// timeLayout has a fixed width, so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is an archived run.
type Entry struct {
	model.Outcome
	Profile model.Profile
	LogPath string
	// Aborted holds the fault which stopped the run, empty when the plan ran
	// to its end.
	Aborted string
}

func (e Entry) ExitCode() int {
	if e.Aborted != "" {
		return 1
	}
	return e.Outcome.ExitCode()
}

// InitDB opens the database at dbPath and brings its schema up to date.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	if err := Migrate(ctx, dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, dbPath string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+dbPath)
	if err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.WarnContext(ctx, "closing migrations failed", "source", srcErr, "database", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	slog.DebugContext(ctx, "history schema", "path", dbPath, "version", version, "dirty", dirty)
	return nil
}

// Record archives a finished run, ErrAlreadyRecorded is returned when the
// run id is already there.
func Record(ctx context.Context, db *sql.DB, e Entry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("run_id", e.RunID))
		}
	}()

	var n int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id=?`, e.RunID).Scan(&n)
	switch {
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case n > 0:
		return ErrAlreadyRecorded
	}

	var aborted *string
	if e.Aborted != "" {
		aborted = &e.Aborted
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, device, model, serial, class, capacity_bytes, mode, started_at, finished_at, exit_code, aborted, log_path)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`,
		e.RunID, e.Device, e.Profile.Model, e.Profile.Serial, e.Profile.Class.String(), int64(e.Profile.CapacityBytes),
		string(e.Mode), e.Started.UTC().Format(timeLayout), e.Finished.UTC().Format(timeLayout),
		e.ExitCode(), aborted, e.LogPath,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}

	for i, s := range e.Stages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stages (run_id, position, name, status, simulated, started_at, finished_at, detail)
			 VALUES (?,?,?,?,?,?,?,?);`,
			e.RunID, i, s.Name, string(s.Status), s.Simulated,
			s.Started.UTC().Format(timeLayout), s.Finished.UTC().Format(timeLayout), s.Detail,
		)
		if err != nil {
			return fmt.Errorf("executing sql insert failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the run identified by runID, ErrNotFound when there is none.
func Get(ctx context.Context, db *sql.DB, runID string) (Entry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("run_id", runID))
		}
	}()

	e, err := scanRun(tx.QueryRowContext(ctx, selectRuns+` WHERE run_id=?`, runID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Entry{}, ErrNotFound
	case err != nil:
		return Entry{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	if e.Stages, err = stages(ctx, tx, runID); err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("committing transaction failed: %w", err)
	}
	return e, nil
}

// List returns up to limit runs, newest first. A non-empty serial selects the
// runs of one device. A limit of zero or less returns all runs.
func List(ctx context.Context, db *sql.DB, serial string, limit int) ([]Entry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.")
		}
	}()

	if limit <= 0 {
		limit = -1
	}
	rows, err := tx.QueryContext(ctx,
		selectRuns+` WHERE (?='' OR serial=?) ORDER BY started_at DESC, id DESC LIMIT ?`,
		serial, serial, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	var entries []Entry
	for rows.Next() {
		e, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		entries = append(entries, e)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}

	for i := range entries {
		if entries[i].Stages, err = stages(ctx, tx, entries[i].RunID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction failed: %w", err)
	}
	return entries, nil
}

const selectRuns = `SELECT run_id, device, model, serial, class, capacity_bytes, mode, started_at, finished_at, aborted, log_path FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Entry, error) {
	var (
		e                 Entry
		class, mode       string
		started, finished string
		capacity          int64
		aborted           *string
	)
	err := row.Scan(&e.RunID, &e.Device, &e.Profile.Model, &e.Profile.Serial, &class, &capacity,
		&mode, &started, &finished, &aborted, &e.LogPath)
	if err != nil {
		return Entry{}, err
	}
	if err := e.Profile.Class.UnmarshalText([]byte(class)); err != nil {
		return Entry{}, err
	}
	e.Profile.Path = e.Device
	e.Profile.CapacityBytes = uint64(max(capacity, 0))
	e.Mode = model.Mode(mode)
	if aborted != nil {
		e.Aborted = *aborted
	}
	if e.Started, err = time.Parse(timeLayout, started); err != nil {
		return Entry{}, err
	}
	if e.Finished, err = time.Parse(timeLayout, finished); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func stages(ctx context.Context, tx *sql.Tx, runID string) ([]model.StageOutcome, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name, status, simulated, started_at, finished_at, detail FROM stages WHERE run_id=? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.StageOutcome
	for rows.Next() {
		var (
			s                 model.StageOutcome
			status            string
			started, finished string
		)
		if err := rows.Scan(&s.Name, &status, &s.Simulated, &started, &finished, &s.Detail); err != nil {
			return nil, fmt.Errorf("scanning stage: %w", err)
		}
		s.Status = model.Status(status)
		if s.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, err
		}
		if s.Finished, err = time.Parse(timeLayout, finished); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
