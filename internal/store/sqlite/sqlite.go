// Package sqlite is the production implementation of store.Store, backed by
// the pure-Go modernc.org/sqlite driver in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/maauso/mediaqueue/internal/store"
)

// Config defines the SQLite connection parameters. Mirrors the WAL/pragma
// pattern used across this codebase's durable stores.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns sensible defaults for a single-process job queue.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	file_name TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	file_staging_path TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	error TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	result_output_path TEXT NOT NULL DEFAULT '',
	result_subtitle_path TEXT NOT NULL DEFAULT '',
	result_subtitles_json TEXT NOT NULL DEFAULT '[]',
	result_archive_url TEXT NOT NULL DEFAULT '',
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS queue_flags (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store implements store.Store over database/sql with a modernc.org/sqlite
// connection opened in WAL mode.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (and migrates) the database at path, applying the mandatory
// PRAGMAs via the DSN so every pooled connection inherits them.
func Open(path string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection pool. Callers invoke this from
// their SIGINT/SIGTERM handler before exit (spec §5).
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool for maintenance tasks (WAL
// checkpointing) that need direct SQL access outside the Store contract.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveJob upserts the row; all scalar fields are written and metadata_json
// is the serialized tagged-sum payload.
func (s *Store) SaveJob(ctx context.Context, job store.Job) error {
	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	subtitlesJSON, err := json.Marshal(job.Result.Subtitles)
	if err != nil {
		return fmt.Errorf("sqlite: marshal subtitles: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, status, progress, file_name, file_size, file_staging_path, file_type,
			created_at, started_at, completed_at, error, failure_reason, retry_count,
			result_output_path, result_subtitle_path, result_subtitles_json, result_archive_url, metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			file_name = excluded.file_name,
			file_size = excluded.file_size,
			file_staging_path = excluded.file_staging_path,
			file_type = excluded.file_type,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error,
			failure_reason = excluded.failure_reason,
			retry_count = excluded.retry_count,
			result_output_path = excluded.result_output_path,
			result_subtitle_path = excluded.result_subtitle_path,
			result_subtitles_json = excluded.result_subtitles_json,
			result_archive_url = excluded.result_archive_url,
			metadata_json = excluded.metadata_json
	`,
		job.ID, string(job.Status), job.Progress,
		job.File.Name, job.File.SizeBytes, job.File.StagingPath, string(job.File.MediaType),
		toMillis(job.CreatedAt), toNullableMillis(job.StartedAt), toNullableMillis(job.CompletedAt),
		job.Error, string(job.FailureReason), job.RetryCount,
		job.Result.OutputVideoPath, job.Result.OutputSubtitlePath, string(subtitlesJSON), job.Result.ArchiveURL,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save job %s: %w", job.ID, err)
	}
	return nil
}

// LoadAllJobs returns all jobs ordered by created_at ascending.
func (s *Store) LoadAllJobs(ctx context.Context) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, progress, file_name, file_size, file_staging_path, file_type,
			created_at, started_at, completed_at, error, failure_reason, retry_count,
			result_output_path, result_subtitle_path, result_subtitles_json, result_archive_url, metadata_json
		FROM jobs ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load all jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load all jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (store.Job, error) {
	var (
		j                                store.Job
		status, mediaType, failureReason string
		createdAtMs                      int64
		startedAtMs, completedAtMs       sql.NullInt64
		subtitlesJSON, metadataJSON      string
	)

	err := row.Scan(
		&j.ID, &status, &j.Progress, &j.File.Name, &j.File.SizeBytes, &j.File.StagingPath, &mediaType,
		&createdAtMs, &startedAtMs, &completedAtMs, &j.Error, &failureReason, &j.RetryCount,
		&j.Result.OutputVideoPath, &j.Result.OutputSubtitlePath, &subtitlesJSON, &j.Result.ArchiveURL, &metadataJSON,
	)
	if err != nil {
		return store.Job{}, fmt.Errorf("sqlite: scan job: %w", err)
	}

	j.Status = store.Status(status)
	j.File.MediaType = store.MediaType(mediaType)
	j.FailureReason = store.FailureReason(failureReason)
	j.CreatedAt = fromMillis(createdAtMs)
	j.StartedAt = fromNullableMillis(startedAtMs)
	j.CompletedAt = fromNullableMillis(completedAtMs)

	if err := json.Unmarshal([]byte(subtitlesJSON), &j.Result.Subtitles); err != nil {
		return store.Job{}, fmt.Errorf("sqlite: unmarshal subtitles for %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &j.Metadata); err != nil {
		return store.Job{}, fmt.Errorf("sqlite: unmarshal metadata for %s: %w", j.ID, err)
	}

	return j, nil
}

// DeleteJob is idempotent: it reports whether a row existed.
func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: delete job %s: %w", id, err)
	}
	return n > 0, nil
}

// UpdateStatus atomically sets status and progress, setting started_at on
// transition into processing and completed_at on transition into a
// terminal state.
func (s *Store) UpdateStatus(ctx context.Context, id string, status store.Status, progress int) error {
	now := toMillis(time.Now())

	var query string
	switch status {
	case store.StatusProcessing:
		query = `UPDATE jobs SET status = ?, progress = ?, started_at = CASE WHEN status = 'processing' AND started_at IS NOT NULL THEN started_at ELSE ? END WHERE id = ?`
	case store.StatusCompleted, store.StatusFailed:
		query = `UPDATE jobs SET status = ?, progress = ?, completed_at = CASE WHEN status IN ('completed', 'failed') AND completed_at IS NOT NULL THEN completed_at ELSE ? END WHERE id = ?`
	default:
		query = `UPDATE jobs SET status = ?, progress = ? WHERE id = ?`
		res, err := s.db.ExecContext(ctx, query, string(status), progress, id)
		if err != nil {
			return fmt.Errorf("sqlite: update status %s: %w", id, err)
		}
		return checkAffected(res, id)
	}

	res, err := s.db.ExecContext(ctx, query, string(status), progress, now, id)
	if err != nil {
		return fmt.Errorf("sqlite: update status %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update status %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
	}
	return nil
}

// SetFlag and GetFlag provide trivial key-value access for queue-wide flags.
func (s *Store) SetFlag(ctx context.Context, key string, value bool) error {
	v := "false"
	if value {
		v = "true"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_flags (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, v)
	if err != nil {
		return fmt.Errorf("sqlite: set flag %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetFlag(ctx context.Context, key string) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM queue_flags WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: get flag %s: %w", key, err)
	}
	return v == "true", nil
}

// MarkInterruptedAsFailed updates every processing row to failed/crash and
// returns the number of rows touched. Called once at startup, before the
// recovery procedure requeues them (internal/queue owns the requeue step).
func (s *Store) MarkInterruptedAsFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, failure_reason = ?, error = ?, progress = 0, completed_at = ?
		WHERE status = ?
	`, string(store.StatusFailed), string(store.FailureCrash), "interrupted by restart",
		toMillis(time.Now()), string(store.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("sqlite: mark interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: mark interrupted: %w", err)
	}
	return int(n), nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toNullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullableMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return fromMillis(v.Int64)
}
