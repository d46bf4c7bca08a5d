package database

import (
	"context"
	"time"

	"github.com/odvcencio/taskhub/internal/models"
)

// DB defines the data access interface. Implemented by SQLite and PostgreSQL backends.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Projects
	CreateProject(ctx context.Context, project *models.Project) error
	GetProjectByID(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	DeleteProject(ctx context.Context, id int64) error
	ListProjectsOwnedBy(ctx context.Context, userID int64) ([]models.Project, error)
	ListProjectsManagedBy(ctx context.Context, userID int64) ([]models.Project, error)
	ListProjectsWithAssignee(ctx context.Context, userID int64) ([]models.Project, error)

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTaskByID(ctx context.Context, id int64) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	UpdateTaskStatus(ctx context.Context, id int64, status string) error
	DeleteTask(ctx context.Context, id int64) error
	ListProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error)
	ListProjectTasksForAssignee(ctx context.Context, projectID, assigneeID int64) ([]models.Task, error)
	ProjectTaskAssigneeIDs(ctx context.Context, projectID int64) ([]int64, error)
	CountTasksByStatus(ctx context.Context, projectID int64) (map[string]int, error)

	// Repository snapshots
	GetRepoSnapshot(ctx context.Context, projectID int64) (*models.RepoSnapshot, error)
	UpsertRepoSnapshot(ctx context.Context, snapshot *models.RepoSnapshot) error

	// Sync jobs
	EnqueueSyncJob(ctx context.Context, projectID int64, maxAttempts int, nextAttemptAt time.Time) (bool, error)
	ClaimSyncJob(ctx context.Context) (*models.SyncJob, error)
	RequeueSyncJob(ctx context.Context, jobID int64, errMsg string, nextAttemptAt time.Time) error
	CompleteSyncJob(ctx context.Context, jobID int64, status models.SyncJobStatus, errMsg string) error
	GetSyncJob(ctx context.Context, projectID int64) (*models.SyncJob, error)
	ListProjectsNeedingSync(ctx context.Context, olderThan time.Time) ([]models.Project, error)
	ListProjectsWithRepo(ctx context.Context) ([]models.Project, error)
}
