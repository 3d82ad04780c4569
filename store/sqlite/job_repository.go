package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/s0up4200/unpackd/store"
)

// JobRepository stores jobs in SQLite, implementing store.JobRepository.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `key, name, hash, source_path, status, archive_set,
	destination_path, error, size, discovered_at, completed_at, finished_at`

func (r *JobRepository) Create(ctx context.Context, job *store.Job) (bool, error) {
	archiveSet, err := json.Marshal(job.ArchiveSet)
	if err != nil {
		return false, fmt.Errorf("failed to encode archive set: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (key, name, hash, source_path, status, archive_set, size, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		job.Key, job.Name, job.Hash, job.SourcePath, string(job.Status),
		string(archiveSet), job.Size, nullTime(job.DiscoveredAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job %s: %w", job.Key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *JobRepository) Get(ctx context.Context, key string) (*store.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE key = ?`, key)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", key, err)
	}

	return job, nil
}

func (r *JobRepository) Update(ctx context.Context, job *store.Job) error {
	archiveSet, err := json.Marshal(job.ArchiveSet)
	if err != nil {
		return fmt.Errorf("failed to encode archive set: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			name = ?,
			hash = ?,
			archive_set = ?,
			destination_path = ?,
			size = ?,
			completed_at = ?
		WHERE key = ? AND status NOT IN (?, ?, ?)`,
		job.Name, job.Hash, string(archiveSet), job.DestinationPath,
		job.Size, nullTime(job.CompletedAt), job.Key,
		string(store.StatusSucceeded), string(store.StatusFailed), string(store.StatusSkipped),
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.Key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either missing or terminal; distinguish for the caller.
		if _, getErr := r.Get(ctx, job.Key); getErr != nil {
			return getErr
		}
		return store.ErrJobTerminal
	}

	return nil
}

func (r *JobRepository) CompareAndSetStatus(ctx context.Context, key string, from, to store.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE key = ? AND status = ?`,
		string(to), key, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition job %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *JobRepository) Finish(ctx context.Context, key string, from, to store.Status, cause string) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("status %s is not terminal", to)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, finished_at = ?
		WHERE key = ? AND status = ?`,
		string(to), cause, time.Now().UTC(), key, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish job %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *JobRepository) ListAll(ctx context.Context) ([]*store.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id`)
}

func (r *JobRepository) ListActive(ctx context.Context) ([]*store.Job, error) {
	return r.list(ctx, fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE status NOT IN ('%s', '%s', '%s') ORDER BY id`,
		store.StatusSucceeded, store.StatusFailed, store.StatusSkipped,
	))
}

func (r *JobRepository) History(ctx context.Context, limit int) ([]*store.HistoryRecord, error) {
	query := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE status IN ('%s', '%s', '%s') ORDER BY finished_at DESC, id DESC`,
		store.StatusSucceeded, store.StatusFailed, store.StatusSkipped,
	)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	jobs, err := r.list(ctx, query)
	if err != nil {
		return nil, err
	}

	records := make([]*store.HistoryRecord, 0, len(jobs))
	for _, job := range jobs {
		records = append(records, &store.HistoryRecord{
			Key:             job.Key,
			Name:            job.Name,
			Status:          job.Status,
			SourcePath:      job.SourcePath,
			DestinationPath: job.DestinationPath,
			Error:           job.Error,
			Size:            job.Size,
			FinishedAt:      job.FinishedAt,
		})
	}

	return records, nil
}

func (r *JobRepository) list(ctx context.Context, query string) ([]*store.Job, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*store.Job, error) {
	var (
		job          store.Job
		status       string
		archiveSet   string
		discoveredAt sql.NullTime
		completedAt  sql.NullTime
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&job.Key, &job.Name, &job.Hash, &job.SourcePath, &status, &archiveSet,
		&job.DestinationPath, &job.Error, &job.Size,
		&discoveredAt, &completedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = store.Status(status)
	if err := json.Unmarshal([]byte(archiveSet), &job.ArchiveSet); err != nil {
		return nil, fmt.Errorf("failed to decode archive set for %s: %w", job.Key, err)
	}
	if discoveredAt.Valid {
		job.DiscoveredAt = discoveredAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}

	return &job, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
