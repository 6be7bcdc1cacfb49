package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Put writes a job into the given partition, replacing any previous record
// with the same id. The stored status always matches the partition.
func (s *Store) Put(ctx context.Context, partition Status, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if _, ok := statusSet[partition]; !ok {
		return fmt.Errorf("unknown partition %q", partition)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = partition

	payloadJSON, err := marshalPayload(job.Payload)
	if err != nil {
		return err
	}
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO jobs (
            id, type, status, payload_json, result_json, error_message,
            retry_count, max_retries, session_id, created_at, started_at, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            type = excluded.type, status = excluded.status,
            payload_json = excluded.payload_json, result_json = excluded.result_json,
            error_message = excluded.error_message, retry_count = excluded.retry_count,
            max_retries = excluded.max_retries, session_id = excluded.session_id,
            created_at = excluded.created_at, started_at = excluded.started_at,
            completed_at = excluded.completed_at`,
		job.ID,
		job.Type,
		partition,
		payloadJSON,
		resultJSON,
		nullableString(job.ErrorMessage),
		job.RetryCount,
		job.MaxRetries,
		nullableString(job.Payload.SessionID),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
	); err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// Get fetches a job from a specific partition. Returns nil when the job is
// absent or lives in a different partition.
func (s *Store) Get(ctx context.Context, partition Status, id string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND status = ?`,
		id, partition,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByID fetches a job regardless of partition.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

// List returns jobs in a partition ordered by creation time, oldest first.
func (s *Store) List(ctx context.Context, partition Status) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id`,
		partition,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListAll returns every job ordered by creation time.
func (s *Store) ListAll(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list all jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Move transitions a job between partitions in a single UPDATE. The job never
// exists in both partitions and never disappears mid-move. Returns false when
// the job was not in the source partition.
func (s *Store) Move(ctx context.Context, from, to Status, id string) (bool, error) {
	if _, ok := statusSet[from]; !ok {
		return false, fmt.Errorf("unknown partition %q", from)
	}
	if _, ok := statusSet[to]; !ok {
		return false, fmt.Errorf("unknown partition %q", to)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("move job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all jobs from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes only completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by partition.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}
