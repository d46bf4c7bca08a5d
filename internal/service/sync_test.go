package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odvcencio/taskhub/internal/database"
	"github.com/odvcencio/taskhub/internal/github"
	"github.com/odvcencio/taskhub/internal/jobs"
	"github.com/odvcencio/taskhub/internal/models"
	"github.com/odvcencio/taskhub/internal/service"
)

type fakeFetcher struct {
	repo   *github.Repository
	err    error
	calls  int
	tokens []string
}

func (f *fakeFetcher) FetchRepository(ctx context.Context, fullName, token string) (*github.Repository, error) {
	f.calls++
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	return f.repo, nil
}

type fixture struct {
	db      database.DB
	fetcher *fakeFetcher
	queue   *jobs.Queue
	svc     *service.SyncService
	owner   *models.User
	pm      *models.User
	project *models.Project
}

func setupSync(t *testing.T, ownerToken string) *fixture {
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
	owner := &models.User{Name: "admin", Email: "admin@example.com", PasswordHash: "x", Role: models.RoleAdmin, GitHubToken: ownerToken}
	if err := db.CreateUser(ctx, owner); err != nil {
		t.Fatal(err)
	}
	pm := &models.User{Name: "pm", Email: "pm@example.com", PasswordHash: "x", Role: models.RoleProjectManager}
	if err := db.CreateUser(ctx, pm); err != nil {
		t.Fatal(err)
	}
	project := &models.Project{Name: "proj", OwnerID: owner.ID, ManagerID: pm.ID, GitHubRepo: "org/proj"}
	if err := db.CreateProject(ctx, project); err != nil {
		t.Fatal(err)
	}

	fetcher := &fakeFetcher{repo: &github.Repository{
		Name: "proj", FullName: "org/proj", HTMLURL: "https://github.com/org/proj", Stars: 7,
	}}
	queue := jobs.NewQueue(db, jobs.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return 0 },
		Retryable:   service.Retryable,
	})
	svc := service.NewSyncService(db, fetcher, queue, service.SyncOptions{CacheTTL: 24 * time.Hour})
	return &fixture{db: db, fetcher: fetcher, queue: queue, svc: svc, owner: owner, pm: pm, project: project}
}

func (f *fixture) storeSnapshot(t *testing.T, age time.Duration) {
	t.Helper()
	err := f.db.UpsertRepoSnapshot(context.Background(), &models.RepoSnapshot{
		ProjectID: f.project.ID, Name: "proj", FullName: "org/proj",
		URL: "https://github.com/org/proj", Stars: 3,
		LastSyncedAt: time.Now().Add(-age),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) pendingJob(t *testing.T) *models.SyncJob {
	t.Helper()
	job, err := f.queue.Status(context.Background(), f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestSnapshotFreshCacheServedWithoutEnqueue(t *testing.T) {
	f := setupSync(t, "owner-token")
	f.storeSnapshot(t, time.Hour)

	actor := &models.User{ID: 99, Role: models.RoleAdmin, GitHubToken: "actor-token"}
	snap, source, err := f.svc.RepositorySnapshot(context.Background(), f.project, actor)
	if err != nil {
		t.Fatal(err)
	}
	if source != service.SourceCache {
		t.Fatalf("expected cache source, got %s", source)
	}
	if snap == nil || snap.Stars != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("expected no fetch for fresh cache, got %d calls", f.fetcher.calls)
	}
	if job := f.pendingJob(t); job != nil {
		t.Fatalf("expected no job for fresh cache, got %+v", job)
	}
}

func TestSnapshotStaleCacheServedAndRefreshQueued(t *testing.T) {
	f := setupSync(t, "owner-token")
	f.storeSnapshot(t, 48*time.Hour)

	actor := &models.User{ID: 99, Role: models.RoleAdmin, GitHubToken: "actor-token"}
	snap, source, err := f.svc.RepositorySnapshot(context.Background(), f.project, actor)
	if err != nil {
		t.Fatal(err)
	}
	// Stale data is still served from cache; the refresh happens later.
	if source != service.SourceCache || snap == nil {
		t.Fatalf("expected stale cache to be served, got %s, %+v", source, snap)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("expected no synchronous fetch, got %d calls", f.fetcher.calls)
	}
	job := f.pendingJob(t)
	if job == nil || job.Status != models.SyncJobQueued {
		t.Fatalf("expected a queued refresh, got %+v", job)
	}

	// A second stale read does not queue a duplicate.
	if _, _, err := f.svc.RepositorySnapshot(context.Background(), f.project, actor); err != nil {
		t.Fatal(err)
	}
	again := f.pendingJob(t)
	if again.ID != job.ID {
		t.Fatalf("expected the same queued job, got %d then %d", job.ID, again.ID)
	}
}

func TestSnapshotNoCacheLiveFetch(t *testing.T) {
	f := setupSync(t, "owner-token")

	actor := &models.User{ID: 99, Role: models.RoleAdmin, GitHubToken: "actor-token"}
	snap, source, err := f.svc.RepositorySnapshot(context.Background(), f.project, actor)
	if err != nil {
		t.Fatal(err)
	}
	if source != service.SourceLive {
		t.Fatalf("expected live source, got %s", source)
	}
	if snap == nil || snap.Stars != 7 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	// The synchronous fetch authenticates as the requester, not the owner.
	if len(f.fetcher.tokens) != 1 || f.fetcher.tokens[0] != "actor-token" {
		t.Fatalf("expected actor token on live fetch, got %v", f.fetcher.tokens)
	}
	if job := f.pendingJob(t); job == nil {
		t.Fatal("expected a background refresh to be queued as well")
	}
}

func TestSnapshotNoCacheFetchFailureReportsUnavailable(t *testing.T) {
	f := setupSync(t, "owner-token")
	f.fetcher.err = github.ErrUnavailable

	actor := &models.User{ID: 99, Role: models.RoleAdmin, GitHubToken: "actor-token"}
	snap, source, err := f.svc.RepositorySnapshot(context.Background(), f.project, actor)
	if err != nil {
		t.Fatal(err)
	}
	if source != service.SourceUnavailable || snap != nil {
		t.Fatalf("expected unavailable marker, got %s, %+v", source, snap)
	}
	// The queued job outlives the failed live fetch.
	if job := f.pendingJob(t); job == nil {
		t.Fatal("expected refresh job to remain queued")
	}
}

func TestSnapshotActorWithoutTokenNeverQueues(t *testing.T) {
	f := setupSync(t, "owner-token")

	actor := &models.User{ID: 99, Role: models.RoleAdmin}

	// No cache: nothing can be fetched, nothing is queued.
	snap, source, err := f.svc.RepositorySnapshot(context.Background(), f.project, actor)
	if err != nil {
		t.Fatal(err)
	}
	if source != service.SourceUnavailable || snap != nil {
		t.Fatalf("expected unavailable marker, got %s, %+v", source, snap)
	}
	if f.fetcher.calls != 0 {
		t.Fatal("expected no fetch without a token")
	}
	if job := f.pendingJob(t); job != nil {
		t.Fatalf("expected no job without a token, got %+v", job)
	}

	// Stale cache: served as-is, still no job.
	f.storeSnapshot(t, 48*time.Hour)
	snap, source, err = f.svc.RepositorySnapshot(context.Background(), f.project, actor)
	if err != nil {
		t.Fatal(err)
	}
	if source != service.SourceCache || snap == nil {
		t.Fatalf("expected stale cache to be served, got %s, %+v", source, snap)
	}
	if job := f.pendingJob(t); job != nil {
		t.Fatalf("expected no job without a token, got %+v", job)
	}
}

func TestProcessJobStoresSnapshotWithOwnerToken(t *testing.T) {
	f := setupSync(t, "owner-token")
	ctx := context.Background()

	if _, err := f.queue.Enqueue(ctx, f.project.ID); err != nil {
		t.Fatal(err)
	}
	job, err := f.queue.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim failed: %+v, %v", job, err)
	}

	if err := f.svc.ProcessJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	// Background refreshes authenticate as the project owner.
	if len(f.fetcher.tokens) != 1 || f.fetcher.tokens[0] != "owner-token" {
		t.Fatalf("expected owner token, got %v", f.fetcher.tokens)
	}

	snap, err := f.db.GetRepoSnapshot(ctx, f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stars != 7 || snap.FullName != "org/proj" {
		t.Fatalf("unexpected stored snapshot: %+v", snap)
	}
}

func TestProcessJobSkipsWhenNothingToDo(t *testing.T) {
	f := setupSync(t, "")
	ctx := context.Background()

	// Owner without a token: job succeeds without fetching.
	if err := f.svc.ProcessJob(ctx, &models.SyncJob{ID: 1, ProjectID: f.project.ID}); err != nil {
		t.Fatal(err)
	}
	if f.fetcher.calls != 0 {
		t.Fatal("expected no fetch when owner has no token")
	}

	// Project deleted after enqueue: also not an error.
	if err := f.svc.ProcessJob(ctx, &models.SyncJob{ID: 2, ProjectID: 9999}); err != nil {
		t.Fatal(err)
	}
}

func TestProcessJobPropagatesFetchErrors(t *testing.T) {
	f := setupSync(t, "owner-token")
	f.fetcher.err = github.ErrRateLimited
	ctx := context.Background()

	err := f.svc.ProcessJob(ctx, &models.SyncJob{ID: 1, ProjectID: f.project.ID, AttemptCount: 1})
	if !errors.Is(err, github.ErrRateLimited) {
		t.Fatalf("expected rate limit error to propagate, got %v", err)
	}
}

// A job that keeps hitting the rate limit is retried up to the attempt budget
// and then abandoned, leaving the last good snapshot untouched.
func TestRateLimitedJobExhaustsRetriesAndKeepsOldSnapshot(t *testing.T) {
	f := setupSync(t, "owner-token")
	f.storeSnapshot(t, 48*time.Hour)
	f.fetcher.err = github.ErrRateLimited
	ctx := context.Background()

	if _, err := f.queue.Enqueue(ctx, f.project.ID); err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := f.queue.Claim(ctx)
		if err != nil || job == nil {
			t.Fatalf("claim on attempt %d failed: %+v, %v", attempt, job, err)
		}
		runErr := f.svc.ProcessJob(ctx, job)
		if runErr == nil {
			t.Fatal("expected fetch error")
		}
		if err := f.queue.RetryOrFail(ctx, job, runErr); err != nil {
			t.Fatal(err)
		}
	}

	final := f.pendingJob(t)
	if final.Status != models.SyncJobFailed || final.AttemptCount != 3 {
		t.Fatalf("expected terminal failure after 3 attempts, got %+v", final)
	}

	snap, err := f.db.GetRepoSnapshot(ctx, f.project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stars != 3 {
		t.Fatalf("expected stale snapshot to survive, got %+v", snap)
	}
}

func TestRetryableClassification(t *testing.T) {
	if !service.Retryable(github.ErrRateLimited) {
		t.Error("rate limit should be retryable")
	}
	if !service.Retryable(github.ErrUnavailable) {
		t.Error("unavailable should be retryable")
	}
	if service.Retryable(github.ErrNotFound) {
		t.Error("not found must not be retryable")
	}
	if service.Retryable(errors.New("boom")) {
		t.Error("unexpected errors must not be retryable")
	}
}

func TestSweepStale(t *testing.T) {
	f := setupSync(t, "owner-token")
	ctx := context.Background()

	// Second linked project with a fresh snapshot.
	freshProject := &models.Project{Name: "fresh", OwnerID: f.owner.ID, ManagerID: f.pm.ID, GitHubRepo: "org/fresh"}
	if err := f.db.CreateProject(ctx, freshProject); err != nil {
		t.Fatal(err)
	}
	if err := f.db.UpsertRepoSnapshot(ctx, &models.RepoSnapshot{
		ProjectID: freshProject.ID, Name: "fresh", FullName: "org/fresh", URL: "u", LastSyncedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	queued, err := f.svc.SweepStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Fatalf("expected 1 queued refresh, got %d", queued)
	}
	if job := f.pendingJob(t); job == nil {
		t.Fatal("expected the snapshotless project to be queued")
	}

	// Sweeping again queues nothing new.
	queued, err = f.svc.SweepStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 0 {
		t.Fatalf("expected no duplicate jobs, got %d", queued)
	}

	all, err := f.svc.SweepAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The fresh project gets one now; the stale one is already queued.
	if all != 1 {
		t.Fatalf("expected 1 new job from SweepAll, got %d", all)
	}
}
