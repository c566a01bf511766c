package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nicodishanthj/echogarden/internal/common"
)

const (
	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
)

// EnqueueJob appends a job to the queue and returns its id.
func (s *Store) EnqueueJob(ctx context.Context, jobType, payload, traceID string) (string, error) {
	id := common.NewID("job")
	now := nowMS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job (job_id, type, status, attempts, next_run_ms, payload, trace_id, created_ms, updated_ms)
                 VALUES (?, ?, 'queued', 0, ?, ?, ?, ?, ?)`,
		id, jobType, now, payload, traceID, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// LeaseJob atomically claims the oldest due job of one of the given types.
// Returns ErrNotFound when nothing is due.
func (s *Store) LeaseJob(ctx context.Context, workerID string, types []string, now time.Time) (Job, error) {
	if len(types) == 0 {
		return Job{}, errors.New("lease requires at least one job type")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Job{}, fmt.Errorf("begin lease: %w", err)
	}
	defer tx.Rollback()
	query, args, err := sqlxIn(
		`SELECT * FROM job
                 WHERE status IN ('queued', 'error') AND type IN (?) AND next_run_ms <= ?
                 ORDER BY created_ms LIMIT 1`, types, now.UnixMilli())
	if err != nil {
		return Job{}, err
	}
	var job Job
	err = tx.GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("select job: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE job SET status = 'running', worker_id = ?, updated_ms = ?
                 WHERE job_id = ? AND status IN ('queued', 'error')`,
		workerID, now.UnixMilli(), job.JobID)
	if err != nil {
		return Job{}, fmt.Errorf("mark job running: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return Job{}, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("commit lease: %w", err)
	}
	job.Status = JobRunning
	job.WorkerID = workerID
	return job, nil
}

// CompleteJob marks a running job done.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job SET status = 'done', error_text = '', updated_ms = ? WHERE job_id = ?`,
		nowMS(), jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob records a failure, scheduling a retry with exponential backoff or
// dead-lettering the job once maxAttempts is exhausted.
func (s *Store) FailJob(ctx context.Context, jobID, errText string, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	var job Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM job WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	attempts := job.Attempts + 1
	status := JobError
	delay := retryBaseDelay << uint(job.Attempts)
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	nextRun := nowMS() + delay.Milliseconds()
	if attempts >= maxAttempts {
		status = JobDead
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE job SET status = ?, attempts = ?, next_run_ms = ?, error_text = ?, updated_ms = ?
                 WHERE job_id = ?`,
		status, attempts, nextRun, errText, nowMS(), jobID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// DueForRetry returns failed jobs whose backoff has elapsed, oldest first.
func (s *Store) DueForRetry(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []Job
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT * FROM job WHERE status = 'error' AND next_run_ms <= ?
                 ORDER BY created_ms LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("due for retry: %w", err)
	}
	return jobs, nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM job WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs, newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []Job
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &jobs,
			`SELECT * FROM job WHERE status = ? ORDER BY created_ms DESC LIMIT ?`, status, limit)
	} else {
		err = s.db.SelectContext(ctx, &jobs,
			`SELECT * FROM job ORDER BY created_ms DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM job GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
