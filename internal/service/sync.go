package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/odvcencio/taskhub/internal/database"
	"github.com/odvcencio/taskhub/internal/github"
	"github.com/odvcencio/taskhub/internal/jobs"
	"github.com/odvcencio/taskhub/internal/models"
)

const (
	defaultCacheTTL      = 24 * time.Hour
	defaultFetchTimeout  = 10 * time.Second
	defaultSweepInterval = time.Hour
)

// SnapshotSource says where a stats response's repository data came from.
type SnapshotSource string

const (
	SourceCache       SnapshotSource = "cache"
	SourceLive        SnapshotSource = "live"
	SourceUnavailable SnapshotSource = "unavailable"
)

// RepoFetcher is the remote repository provider.
type RepoFetcher interface {
	FetchRepository(ctx context.Context, fullName, token string) (*github.Repository, error)
}

// Retryable reports whether a fetch error is worth another attempt. Rate
// limits and provider outages are transient; everything else is terminal.
func Retryable(err error) bool {
	return errors.Is(err, github.ErrRateLimited) || errors.Is(err, github.ErrUnavailable)
}

type SyncOptions struct {
	CacheTTL      time.Duration
	FetchTimeout  time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// SyncService coordinates cached-vs-refreshed repository metadata: it serves
// fresh cache directly, schedules background refreshes for stale or missing
// cache, and runs the refresh jobs themselves.
type SyncService struct {
	db            database.DB
	fetcher       RepoFetcher
	queue         *jobs.Queue
	cacheTTL      time.Duration
	fetchTimeout  time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyncService(db database.DB, fetcher RepoFetcher, queue *jobs.Queue, opts SyncOptions) *SyncService {
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		db:            db,
		fetcher:       fetcher,
		queue:         queue,
		cacheTTL:      cacheTTL,
		fetchTimeout:  fetchTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// RepositorySnapshot produces the repository view for a stats request. Fresh
// cache is served as-is. Stale cache is served immediately while a background
// refresh is scheduled. With no cache at all, one time-bounded live fetch is
// made using the actor's token; without a token nothing can be fetched and an
// unavailable marker is returned. Refreshes are only scheduled when the actor
// has a token: background jobs authenticate with the project owner's token,
// so an actorless request never creates work the owner may not want.
func (s *SyncService) RepositorySnapshot(ctx context.Context, project *models.Project, actor *models.User) (*models.RepoSnapshot, SnapshotSource, error) {
	snap, err := s.db.GetRepoSnapshot(ctx, project.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, SourceUnavailable, err
	}

	now := s.now()
	if snap.Fresh(now, s.cacheTTL) {
		return snap, SourceCache, nil
	}

	if actor == nil || actor.GitHubToken == "" {
		if snap != nil {
			return snap, SourceCache, nil
		}
		return nil, SourceUnavailable, nil
	}

	s.enqueueRefresh(ctx, project.ID)

	if snap != nil {
		return snap, SourceCache, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	repo, err := s.fetcher.FetchRepository(fetchCtx, project.GitHubRepo, actor.GitHubToken)
	if err != nil {
		s.logger.Warn("live repository fetch failed", "project_id", project.ID, "repo", project.GitHubRepo, "error", err)
		return nil, SourceUnavailable, nil
	}
	live := snapshotFromRepo(project.ID, repo, now)
	return live, SourceLive, nil
}

func (s *SyncService) enqueueRefresh(ctx context.Context, projectID int64) {
	enqueued, err := s.queue.Enqueue(ctx, projectID)
	if err != nil {
		s.logger.Error("enqueue repository refresh", "project_id", projectID, "error", err)
		return
	}
	if enqueued {
		syncEnqueuedTotal().Inc()
	}
}

// ProcessJob runs one refresh job. It resolves the project owner's token,
// fetches the repository and overwrites the cached snapshot. Returned errors
// are classified by the queue's retry policy; nil means the job is done,
// including the cases where there is nothing to do.
func (s *SyncService) ProcessJob(ctx context.Context, job *models.SyncJob) error {
	project, err := s.db.GetProjectByID(ctx, job.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Project deleted after the job was queued.
			return nil
		}
		return err
	}
	if project.GitHubRepo == "" {
		return nil
	}

	owner, err := s.db.GetUserByID(ctx, project.OwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if owner.GitHubToken == "" {
		s.logger.Info("skipping repository sync, owner has no github token", "project_id", project.ID)
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	repo, err := s.fetcher.FetchRepository(fetchCtx, project.GitHubRepo, owner.GitHubToken)
	if err != nil {
		syncRefreshTotal(refreshResult(err)).Inc()
		s.logger.Warn("repository sync fetch failed", "project_id", project.ID, "repo", project.GitHubRepo, "attempt", job.AttemptCount, "error", err)
		return err
	}

	if err := s.db.UpsertRepoSnapshot(ctx, snapshotFromRepo(project.ID, repo, s.now())); err != nil {
		syncRefreshTotal("store_error").Inc()
		return err
	}
	syncRefreshTotal("success").Inc()
	s.logger.Info("synced repository data", "project_id", project.ID, "repo", project.GitHubRepo)
	return nil
}

// SweepStale enqueues a refresh for every project whose linked repository
// cache is missing or older than the TTL. Returns the number of jobs queued.
func (s *SyncService) SweepStale(ctx context.Context) (int, error) {
	projects, err := s.db.ListProjectsNeedingSync(ctx, s.now().Add(-s.cacheTTL))
	if err != nil {
		return 0, err
	}
	return s.enqueueAll(ctx, projects), nil
}

// SweepAll enqueues a refresh for every project with a linked repository,
// regardless of cache age.
func (s *SyncService) SweepAll(ctx context.Context) (int, error) {
	projects, err := s.db.ListProjectsWithRepo(ctx)
	if err != nil {
		return 0, err
	}
	return s.enqueueAll(ctx, projects), nil
}

func (s *SyncService) enqueueAll(ctx context.Context, projects []models.Project) int {
	queued := 0
	for _, project := range projects {
		enqueued, err := s.queue.Enqueue(ctx, project.ID)
		if err != nil {
			s.logger.Error("enqueue repository refresh", "project_id", project.ID, "error", err)
			continue
		}
		if enqueued {
			syncEnqueuedTotal().Inc()
			queued++
		}
	}
	return queued
}

// Start runs the periodic stale-cache sweep until Stop or context cancellation.
func (s *SyncService) Start(parent context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				queued, err := s.SweepStale(ctx)
				if err != nil {
					s.logger.Error("stale repository sweep failed", "error", err)
					continue
				}
				if queued > 0 {
					s.logger.Info("stale repository sweep", "queued", queued)
				}
			}
		}
	}()
}

func (s *SyncService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func snapshotFromRepo(projectID int64, repo *github.Repository, now time.Time) *models.RepoSnapshot {
	return &models.RepoSnapshot{
		ProjectID:    projectID,
		Name:         repo.Name,
		FullName:     repo.FullName,
		Description:  repo.Description,
		URL:          repo.HTMLURL,
		Stars:        repo.Stars,
		Forks:        repo.Forks,
		OpenIssues:   repo.OpenIssues,
		LastSyncedAt: now.UTC(),
	}
}

func refreshResult(err error) string {
	switch {
	case errors.Is(err, github.ErrNotFound):
		return "not_found"
	case errors.Is(err, github.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, github.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
