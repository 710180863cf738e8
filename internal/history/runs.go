package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one pipeline attempt for a job.
type Run struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	JobKey       string    `json:"job_key"`
	TargetID     string    `json:"target_id"`
	SourceName   string    `json:"source_name"`
	SourcePath   string    `json:"source_path"`
	State        string    `json:"state"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	ErrorClass   string    `json:"error_class,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Command      string    `json:"command,omitempty"`
	LogPath      string    `json:"log_path,omitempty"`
	ResultDir    string    `json:"result_dir,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Duration returns the run length, or zero while still running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome is the final state recorded for a run.
type Outcome struct {
	State        string
	ExitCode     int
	ErrorClass   string
	ErrorMessage string
	Command      string
	LogPath      string
	ResultDir    string
	FinishedAt   time.Time
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = "id, run_id, job_key, target_id, source_name, source_path, state, exit_code, error_class, error_message, command, log_path, result_dir, started_at, finished_at, updated_at"

// RecordStart inserts a new run.
func (s *Store) RecordStart(ctx context.Context, run Run) error {
	if run.RunID == "" || run.JobKey == "" {
		return errors.New("run id and job key are required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO job_runs (
            run_id, job_key, target_id, source_name, source_path, state,
            command, log_path, started_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.JobKey,
		nullableString(run.TargetID),
		nullableString(run.SourceName),
		nullableString(run.SourcePath),
		run.State,
		nullableString(run.Command),
		nullableString(run.LogPath),
		run.StartedAt.UTC().Format(timeLayout),
		now,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordFinish stores the outcome of a run.
func (s *Store) RecordFinish(ctx context.Context, runID string, outcome Outcome) error {
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE job_runs
         SET state = ?, exit_code = ?, error_class = ?, error_message = ?,
             command = COALESCE(?, command), log_path = COALESCE(?, log_path),
             result_dir = ?, finished_at = ?, updated_at = ?
         WHERE run_id = ?`,
		outcome.State,
		outcome.ExitCode,
		nullableString(outcome.ErrorClass),
		nullableString(outcome.ErrorMessage),
		nullableString(outcome.Command),
		nullableString(outcome.LogPath),
		nullableString(outcome.ResultDir),
		outcome.FinishedAt.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Get returns a run by its run id, or nil when absent.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM job_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM job_runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// ForJob returns every run of a job, oldest first.
func (s *Store) ForJob(ctx context.Context, jobKey string) ([]*Run, error) {
	return s.query(ctx, `SELECT `+runColumns+` FROM job_runs WHERE job_key = ? ORDER BY started_at, id`, jobKey)
}

// Stats returns the number of runs per state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM job_runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Prune deletes finished runs that ended before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM job_runs WHERE finished_at IS NOT NULL AND finished_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		targetID     sql.NullString
		sourceName   sql.NullString
		sourcePath   sql.NullString
		exitCode     sql.NullInt64
		errorClass   sql.NullString
		errorMessage sql.NullString
		command      sql.NullString
		logPath      sql.NullString
		resultDir    sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RunID,
		&run.JobKey,
		&targetID,
		&sourceName,
		&sourcePath,
		&run.State,
		&exitCode,
		&errorClass,
		&errorMessage,
		&command,
		&logPath,
		&resultDir,
		&startedRaw,
		&finishedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	run.TargetID = targetID.String
	run.SourceName = sourceName.String
	run.SourcePath = sourcePath.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	run.ErrorClass = errorClass.String
	run.ErrorMessage = errorMessage.String
	run.Command = command.String
	run.LogPath = logPath.String
	run.ResultDir = resultDir.String
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		run.FinishedAt = parseTime(finishedRaw.String)
	}
	run.UpdatedAt = parseTime(updatedRaw)
	return &run, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
