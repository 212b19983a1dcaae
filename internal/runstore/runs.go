package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const runColumns = `id, status, sources_json, classes_json, tile_size, ensemble_size, backend,
    artifact_dir, frames, labeled_frames, agreement, error_message, started_at, finished_at`

// Begin records run as running. StartedAt defaults to now.
func (s *Store) Begin(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = StatusRunning

	sources, err := json.Marshal(nonNil(run.Sources))
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	classes, err := json.Marshal(nonNil(run.Classes))
	if err != nil {
		return fmt.Errorf("marshal classes: %w", err)
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO runs (
            id, status, sources_json, classes_json, tile_size, ensemble_size,
            backend, artifact_dir, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Status,
		string(sources),
		string(classes),
		run.TileSize,
		run.EnsembleSize,
		run.Backend,
		run.ArtifactDir,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Complete marks a running run as completed with its outcome.
func (s *Store) Complete(ctx context.Context, id string, outcome Outcome) error {
	return s.finish(ctx, id, StatusCompleted, outcome, "")
}

// Fail marks a running run as failed.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, id, StatusFailed, Outcome{}, msg)
}

func (s *Store) finish(ctx context.Context, id string, status Status, outcome Outcome, message string) error {
	var agreement any
	if outcome.Agreement != nil {
		agreement = *outcome.Agreement
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
         SET status = ?, frames = ?, labeled_frames = ?, agreement = ?,
             error_message = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		status,
		outcome.Frames,
		outcome.LabeledFrames,
		agreement,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s is not running", id)
	}
	return nil
}

// Get fetches a run by id. It returns nil, nil when the run does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all runs.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		sourcesJSON  string
		classesJSON  string
		agreement    sql.NullFloat64
		errorMessage sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Status,
		&sourcesJSON,
		&classesJSON,
		&run.TileSize,
		&run.EnsembleSize,
		&run.Backend,
		&run.ArtifactDir,
		&run.Frames,
		&run.LabeledFrames,
		&agreement,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &run.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(classesJSON), &run.Classes); err != nil {
		return nil, fmt.Errorf("decode classes: %w", err)
	}
	if agreement.Valid {
		v := agreement.Float64
		run.Agreement = &v
	}
	run.ErrorMessage = errorMessage.String
	started, err := parseTimeString(startedRaw)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = started
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return &run, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
