package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odvcencio/taskhub/internal/database"
	"github.com/odvcencio/taskhub/internal/jobs"
	"github.com/odvcencio/taskhub/internal/models"
)

var errTransient = errors.New("transient")

func setupQueue(t *testing.T, policy jobs.RetryPolicy) (*jobs.Queue, database.DB, int64) {
	t.Helper()
	db, err := database.OpenSQLite(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	admin := &models.User{Name: "admin", Email: "admin@example.com", PasswordHash: "x", Role: models.RoleAdmin}
	if err := db.CreateUser(ctx, admin); err != nil {
		t.Fatal(err)
	}
	pm := &models.User{Name: "pm", Email: "pm@example.com", PasswordHash: "x", Role: models.RoleProjectManager}
	if err := db.CreateUser(ctx, pm); err != nil {
		t.Fatal(err)
	}
	project := &models.Project{Name: "proj", OwnerID: admin.ID, ManagerID: pm.ID, GitHubRepo: "org/proj"}
	if err := db.CreateProject(ctx, project); err != nil {
		t.Fatal(err)
	}
	return jobs.NewQueue(db, policy), db, project.ID
}

func TestExponentialBackoff(t *testing.T) {
	backoff := jobs.ExponentialBackoff(30 * time.Second)
	for attempt, want := range map[int]time.Duration{
		1: 30 * time.Second,
		2: 60 * time.Second,
		3: 120 * time.Second,
	} {
		if got := backoff(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
	if got := backoff(0); got != 30*time.Second {
		t.Errorf("attempt 0 should clamp to base, got %v", got)
	}
}

func TestEnqueueAndStatus(t *testing.T) {
	q, _, projectID := setupQueue(t, jobs.RetryPolicy{})
	ctx := context.Background()

	if job, err := q.Status(ctx, projectID); err != nil || job != nil {
		t.Fatalf("expected no status before enqueue, got %+v, %v", job, err)
	}

	inserted, err := q.Enqueue(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("expected enqueue to insert")
	}

	job, err := q.Status(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Status != models.SyncJobQueued {
		t.Fatalf("expected queued job, got %+v", job)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", job.MaxAttempts)
	}

	if _, err := q.Enqueue(ctx, 0); err == nil {
		t.Fatal("expected enqueue without project id to fail")
	}
}

func TestRetryOrFailRequeuesRetryableErrors(t *testing.T) {
	q, db, projectID := setupQueue(t, jobs.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, projectID); err != nil {
		t.Fatal(err)
	}

	// Two retryable failures requeue; the third attempt exhausts the budget.
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := q.Claim(ctx)
		if err != nil || job == nil {
			t.Fatalf("claim %d failed: %+v, %v", attempt, job, err)
		}
		if job.AttemptCount != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, job.AttemptCount)
		}
		if err := q.RetryOrFail(ctx, job, errTransient); err != nil {
			t.Fatal(err)
		}
		latest, err := db.GetSyncJob(ctx, projectID)
		if err != nil {
			t.Fatal(err)
		}
		if latest.Status != models.SyncJobQueued {
			t.Fatalf("expected requeued after attempt %d, got %s", attempt, latest.Status)
		}
	}

	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("final claim failed: %+v, %v", job, err)
	}
	if err := q.RetryOrFail(ctx, job, errTransient); err != nil {
		t.Fatal(err)
	}
	latest, err := db.GetSyncJob(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Status != models.SyncJobFailed {
		t.Fatalf("expected terminal failure after 3 attempts, got %s", latest.Status)
	}
	if latest.LastError != "transient" {
		t.Fatalf("expected last error to be recorded, got %q", latest.LastError)
	}
}

func TestRetryOrFailNonRetryableFailsImmediately(t *testing.T) {
	q, db, projectID := setupQueue(t, jobs.RetryPolicy{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, projectID); err != nil {
		t.Fatal(err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim failed: %+v, %v", job, err)
	}

	if err := q.RetryOrFail(ctx, job, errors.New("repository not found")); err != nil {
		t.Fatal(err)
	}
	latest, err := db.GetSyncJob(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Status != models.SyncJobFailed {
		t.Fatalf("expected failed on first non-retryable error, got %s", latest.Status)
	}
	if latest.AttemptCount != 1 {
		t.Fatalf("expected a single attempt, got %d", latest.AttemptCount)
	}
}

func TestCompleteMarksJobDone(t *testing.T) {
	q, db, projectID := setupQueue(t, jobs.RetryPolicy{})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, projectID); err != nil {
		t.Fatal(err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim failed: %+v, %v", job, err)
	}
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	latest, err := db.GetSyncJob(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Status != models.SyncJobCompleted || latest.LastError != "" {
		t.Fatalf("unexpected completed job: %+v", latest)
	}
}
