package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueue inserts a new job into the pending partition and returns it.
// A non-positive maxRetries falls back to DefaultMaxRetries; the budget is
// fixed for the lifetime of the job.
func (s *Store) Enqueue(ctx context.Context, jobType string, payload Payload, maxRetries int) (*Job, error) {
	if jobType == "" {
		jobType = JobTypeImageGeneration
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Put(ctx, StatusPending, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext atomically claims the oldest pending job, moving it to the
// processing partition and stamping its start time. Returns nil when the
// pending partition is empty. Intended for a single consumer; the claim
// happens inside one transaction so a job can never be claimed twice.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)

	var claimedID string
	err := retryOnBusy(ctx, func() error {
		claimedID = ""
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var id string
		row := tx.QueryRowContext(
			ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
			StatusPending,
		)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select next pending: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			StatusProcessing,
			formatTime(time.Now()),
			id,
			StatusPending,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}
		claimedID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimedID == "" {
		return nil, nil
	}
	return s.GetByID(ctx, claimedID)
}

// Complete moves a processing job to completed, stamps its completion time,
// and merges the provided result into any result recorded earlier. Returns
// false when the job is not in the processing partition, leaving the store
// untouched; callers log and move on.
func (s *Store) Complete(ctx context.Context, id string, result Result) (bool, error) {
	job, err := s.Get(ctx, StatusProcessing, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	merged := job.Result
	if merged == nil {
		merged = make(Result, len(result))
	}
	for key, value := range result {
		merged[key] = value
	}
	resultJSON, err := marshalResult(merged)
	if err != nil {
		return false, err
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, result_json = ?, error_message = NULL, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		resultJSON,
		formatTime(time.Now()),
		id,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Fail records a failure for a processing job. The retry count increments;
// while it remains under the budget the job returns to pending for another
// attempt, otherwise it lands in failed with its completion time stamped.
// Returns the job after the transition, or nil when it was not processing.
func (s *Store) Fail(ctx context.Context, id string, message string) (*Job, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET
            retry_count = retry_count + 1,
            status = CASE WHEN retry_count + 1 < max_retries THEN ? ELSE ? END,
            error_message = ?,
            started_at = NULL,
            completed_at = CASE WHEN retry_count + 1 < max_retries THEN NULL ELSE ? END
         WHERE id = ? AND status = ?`,
		StatusPending,
		StatusFailed,
		nullableString(message),
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// RetryFailed moves failed jobs back to pending with a fresh retry budget.
// With no ids, every failed job is resubmitted.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs SET status = ?, retry_count = 0, error_message = NULL,
                started_at = NULL, completed_at = NULL
             WHERE status = ?`,
			StatusPending,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs SET status = ?, retry_count = 0, error_message = NULL,
            started_at = NULL, completed_at = NULL
        WHERE status = ? AND id IN (` + placeholders + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}
