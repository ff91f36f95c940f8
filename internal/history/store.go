// Package history keeps verdicts of past runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/srg/beaconval/internal/validator"
)

var ErrNotFound = errors.New("verdict not found")

// Store implements validator.Recorder on SQLite.
type Store struct {
	db *sql.DB
}

var _ validator.Recorder = (*Store)(nil)

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS verdicts (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			test        TEXT NOT NULL,
			reference   TEXT NOT NULL DEFAULT '',
			address     TEXT NOT NULL DEFAULT '',
			passed      INTEGER NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			steps       TEXT NOT NULL DEFAULT '[]',
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS verdicts_run ON verdicts (run_id);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts v. Recording the same verdict twice fails.
func (s *Store) Record(ctx context.Context, v validator.Verdict) error {
	steps, err := json.Marshal(v.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verdicts (id, run_id, test, reference, address, passed, reason, steps, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.RunID.String(), v.Test, v.Reference, v.Address, v.Passed, v.Reason, string(steps),
		formatTime(v.StartedAt), formatTime(v.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record verdict %s: %w", v.ID, err)
	}
	return nil
}

const selectVerdicts = `SELECT id, run_id, test, reference, address, passed, reason, steps, started_at, finished_at FROM verdicts`

// Get returns the verdict with id.
func (s *Store) Get(ctx context.Context, id ulid.ULID) (validator.Verdict, error) {
	row := s.db.QueryRowContext(ctx, selectVerdicts+" WHERE id = ?", id.String())
	v, err := scanVerdict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return validator.Verdict{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, err
}

// Recent returns up to limit verdicts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]validator.Verdict, error) {
	return s.query(ctx, selectVerdicts+" ORDER BY id DESC LIMIT ?", limit)
}

// Run returns the verdicts of one batch in the order they were recorded.
func (s *Store) Run(ctx context.Context, runID ulid.ULID) ([]validator.Verdict, error) {
	return s.query(ctx, selectVerdicts+" WHERE run_id = ? ORDER BY id", runID.String())
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]validator.Verdict, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []validator.Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerdict(row scanner) (validator.Verdict, error) {
	var (
		v                     validator.Verdict
		id, runID, steps      string
		startedAt, finishedAt string
	)
	if err := row.Scan(&id, &runID, &v.Test, &v.Reference, &v.Address, &v.Passed, &v.Reason, &steps, &startedAt, &finishedAt); err != nil {
		return v, err
	}

	var err error
	if v.ID, err = ulid.ParseStrict(id); err != nil {
		return v, fmt.Errorf("verdict id %q: %w", id, err)
	}
	if v.RunID, err = ulid.ParseStrict(runID); err != nil {
		return v, fmt.Errorf("run id %q: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(steps), &v.Steps); err != nil {
		return v, fmt.Errorf("unmarshal steps of %s: %w", id, err)
	}
	v.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	v.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
