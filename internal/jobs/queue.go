package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/taskhub/internal/database"
	"github.com/odvcencio/taskhub/internal/models"
)

const (
	defaultBackoffBase = 30 * time.Second
	defaultMaxAttempts = 3
)

// RetryPolicy decides how a failed sync job is handled: how many attempts it
// gets, how long to wait before the next one, and which errors are worth
// retrying at all.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// ExponentialBackoff returns base, 2*base, 4*base, ... for attempts 1, 2, 3.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << (attempt - 1)
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = ExponentialBackoff(defaultBackoffBase)
	}
	if p.Retryable == nil {
		p.Retryable = func(error) bool { return false }
	}
	return p
}

// Queue persists repository sync jobs and their status transitions. At most
// one queued-or-running job exists per project; Enqueue is a no-op while one
// is outstanding.
type Queue struct {
	db     database.DB
	policy RetryPolicy
}

func NewQueue(db database.DB, policy RetryPolicy) *Queue {
	return &Queue{db: db, policy: policy.withDefaults()}
}

// Enqueue schedules a refresh for the project. Reports whether a new job was
// created; false means one is already queued or running.
func (q *Queue) Enqueue(ctx context.Context, projectID int64) (bool, error) {
	if projectID <= 0 {
		return false, fmt.Errorf("project id is required")
	}
	return q.db.EnqueueSyncJob(ctx, projectID, q.policy.MaxAttempts, time.Now().UTC())
}

func (q *Queue) Claim(ctx context.Context) (*models.SyncJob, error) {
	return q.db.ClaimSyncJob(ctx)
}

func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	return q.db.CompleteSyncJob(ctx, jobID, models.SyncJobCompleted, "")
}

func (q *Queue) Fail(ctx context.Context, jobID int64, runErr error) error {
	return q.db.CompleteSyncJob(ctx, jobID, models.SyncJobFailed, failureMessage(runErr))
}

// RetryOrFail applies the retry policy to a failed attempt: non-retryable
// errors and exhausted attempts fail the job terminally, otherwise it is
// requeued with backoff.
func (q *Queue) RetryOrFail(ctx context.Context, job *models.SyncJob, runErr error) error {
	if job == nil {
		return fmt.Errorf("sync job is nil")
	}
	message := failureMessage(runErr)
	if !q.policy.Retryable(runErr) || job.AttemptCount >= job.MaxAttempts {
		return q.db.CompleteSyncJob(ctx, job.ID, models.SyncJobFailed, message)
	}
	nextAttempt := time.Now().UTC().Add(q.policy.Backoff(job.AttemptCount))
	return q.db.RequeueSyncJob(ctx, job.ID, message, nextAttempt)
}

// Status returns the latest sync job for a project, or nil if none exists.
func (q *Queue) Status(ctx context.Context, projectID int64) (*models.SyncJob, error) {
	job, err := q.db.GetSyncJob(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func failureMessage(err error) string {
	if err == nil {
		return "job failed"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "job failed"
	}
	return msg
}
