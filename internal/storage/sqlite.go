package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/docforge/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		job_name TEXT NOT NULL,
		document_name TEXT NOT NULL,
		dir TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		artifact_path TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		error_recovery INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		idx INTEGER NOT NULL,
		stage TEXT NOT NULL,
		success INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		script TEXT NOT NULL,
		UNIQUE(run_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	result, err := s.db.Exec(
		`INSERT INTO runs (run_key, created_at, job_name, document_name, dir, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Key, run.CreatedAt.UTC(), run.JobName, run.DocumentName, run.Dir, run.Status,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const runColumns = `id, run_key, created_at, completed_at, job_name, document_name, dir,
	status, artifact_path, attempts, error_recovery, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.Key, &run.CreatedAt, &completedAt, &run.JobName, &run.DocumentName, &run.Dir,
		&run.Status, &run.ArtifactPath, &run.Attempts, &run.ErrorRecovery, &run.Error,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return run, err
}

func (s *Storage) UpdateRun(run *models.Run) error {
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, artifact_path = ?, attempts = ?, error_recovery = ?, error = ?
		 WHERE id = ?`,
		completedAt, run.Status, run.ArtifactPath, run.Attempts, run.ErrorRecovery, run.Error, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) CreateAttempt(a *models.Attempt) (int64, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	result, err := s.db.Exec(
		`INSERT INTO attempts (run_id, idx, stage, success, kind, message, duration_ms, created_at, script)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Index, a.Stage, a.Outcome.Success, a.Outcome.Kind, a.Outcome.Message,
		a.DurationMs, a.Timestamp.UTC(), a.Script.Source,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetAttemptsForRun(runID int64) ([]*models.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, idx, stage, success, kind, message, duration_ms, created_at, script
		 FROM attempts WHERE run_id = ? ORDER BY idx`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.Attempt
	for rows.Next() {
		var a models.Attempt
		err := rows.Scan(
			&a.ID, &a.RunID, &a.Index, &a.Stage, &a.Outcome.Success, &a.Outcome.Kind,
			&a.Outcome.Message, &a.DurationMs, &a.Timestamp, &a.Script.Source,
		)
		if err != nil {
			return nil, err
		}
		a.Script.Stage = a.Stage
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM attempts WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// FormatTimeAgo renders t relative to now for list views.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
