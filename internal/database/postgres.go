package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/taskhub/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresDB struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	github_token TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS projects (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	owner_id BIGINT NOT NULL REFERENCES users(id),
	manager_id BIGINT NOT NULL REFERENCES users(id),
	github_repo TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);
CREATE INDEX IF NOT EXISTS idx_projects_manager ON projects(manager_id);

CREATE TABLE IF NOT EXISTS tasks (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	assignee_id BIGINT NOT NULL REFERENCES users(id),
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'todo',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);

CREATE TABLE IF NOT EXISTS repo_snapshots (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	stars INTEGER NOT NULL DEFAULT 0,
	forks INTEGER NOT NULL DEFAULT 0,
	open_issues INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_jobs (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'queued',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_project ON sync_jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status, next_attempt_at);
CREATE UNIQUE INDEX IF NOT EXISTS sync_jobs_one_active ON sync_jobs(project_id) WHERE status IN ('queued', 'running');
`

// Users

func (p *PostgresDB) CreateUser(ctx context.Context, u *models.User) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, github_token) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.GitHubToken).Scan(&u.ID, &u.CreatedAt)
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, github_token, created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, github_token, created_at FROM users WHERE email = $1`, email))
}

// Projects

func (p *PostgresDB) CreateProject(ctx context.Context, proj *models.Project) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO projects (name, description, owner_id, manager_id, github_repo)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		proj.Name, proj.Description, proj.OwnerID, proj.ManagerID, proj.GitHubRepo).
		Scan(&proj.ID, &proj.CreatedAt, &proj.UpdatedAt)
}

func (p *PostgresDB) GetProjectByID(ctx context.Context, id int64) (*models.Project, error) {
	return scanProject(p.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (p *PostgresDB) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return scanProject(p.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = $1`, name))
}

func (p *PostgresDB) UpdateProject(ctx context.Context, proj *models.Project) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE projects SET name = $1, description = $2, manager_id = $3, github_repo = $4, updated_at = NOW() WHERE id = $5`,
		proj.Name, proj.Description, proj.ManagerID, proj.GitHubRepo, proj.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) DeleteProject(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) ListProjectsOwnedBy(ctx context.Context, userID int64) ([]models.Project, error) {
	return p.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (p *PostgresDB) ListProjectsManagedBy(ctx context.Context, userID int64) ([]models.Project, error) {
	return p.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE manager_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (p *PostgresDB) ListProjectsWithAssignee(ctx context.Context, userID int64) ([]models.Project, error) {
	return p.queryProjects(ctx,
		`SELECT DISTINCT p.id, p.name, p.description, p.owner_id, p.manager_id, p.github_repo, p.created_at, p.updated_at
		 FROM projects p
		 JOIN tasks t ON t.project_id = p.id
		 WHERE t.assignee_id = $1
		 ORDER BY p.created_at DESC, p.id DESC`, userID)
}

func (p *PostgresDB) queryProjects(ctx context.Context, query string, args ...any) ([]models.Project, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var proj models.Project
		if err := rows.Scan(&proj.ID, &proj.Name, &proj.Description, &proj.OwnerID, &proj.ManagerID, &proj.GitHubRepo, &proj.CreatedAt, &proj.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, proj)
	}
	return projects, rows.Err()
}

// Tasks

func (p *PostgresDB) CreateTask(ctx context.Context, t *models.Task) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO tasks (project_id, assignee_id, description, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		t.ProjectID, t.AssigneeID, t.Description, t.Status).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (p *PostgresDB) GetTaskByID(ctx context.Context, id int64) (*models.Task, error) {
	var t models.Task
	err := p.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.ProjectID, &t.AssigneeID, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresDB) UpdateTask(ctx context.Context, t *models.Task) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET description = $1, assignee_id = $2, updated_at = NOW() WHERE id = $3`,
		t.Description, t.AssigneeID, t.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) UpdateTaskStatus(ctx context.Context, id int64, status string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) DeleteTask(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) ListProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error) {
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY created_at ASC, id ASC`, projectID)
}

func (p *PostgresDB) ListProjectTasksForAssignee(ctx context.Context, projectID, assigneeID int64) ([]models.Task, error) {
	return p.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 AND assignee_id = $2 ORDER BY created_at ASC, id ASC`,
		projectID, assigneeID)
}

func (p *PostgresDB) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.AssigneeID, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *PostgresDB) ProjectTaskAssigneeIDs(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT assignee_id FROM tasks WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresDB) CountTasksByStatus(ctx context.Context, projectID int64) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE project_id = $1 GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Repository snapshots

func (p *PostgresDB) GetRepoSnapshot(ctx context.Context, projectID int64) (*models.RepoSnapshot, error) {
	var snap models.RepoSnapshot
	err := p.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, full_name, description, url, stars, forks, open_issues, last_synced_at
		 FROM repo_snapshots WHERE project_id = $1`, projectID).
		Scan(&snap.ID, &snap.ProjectID, &snap.Name, &snap.FullName, &snap.Description, &snap.URL,
			&snap.Stars, &snap.Forks, &snap.OpenIssues, &snap.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (p *PostgresDB) UpsertRepoSnapshot(ctx context.Context, snap *models.RepoSnapshot) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO repo_snapshots (project_id, name, full_name, description, url, stars, forks, open_issues, last_synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (project_id) DO UPDATE SET
			 name = EXCLUDED.name,
			 full_name = EXCLUDED.full_name,
			 description = EXCLUDED.description,
			 url = EXCLUDED.url,
			 stars = EXCLUDED.stars,
			 forks = EXCLUDED.forks,
			 open_issues = EXCLUDED.open_issues,
			 last_synced_at = EXCLUDED.last_synced_at`,
		snap.ProjectID, snap.Name, snap.FullName, snap.Description, snap.URL,
		snap.Stars, snap.Forks, snap.OpenIssues, snap.LastSyncedAt.UTC())
	return err
}

// Sync jobs

// EnqueueSyncJob inserts a queued refresh job unless the project already has
// one queued or running. The sync_jobs_one_active unique index makes the
// insert-if-absent atomic under concurrent statements.
func (p *PostgresDB) EnqueueSyncJob(ctx context.Context, projectID int64, maxAttempts int, nextAttemptAt time.Time) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if nextAttemptAt.IsZero() {
		nextAttemptAt = time.Now().UTC()
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO sync_jobs (project_id, status, attempt_count, max_attempts, last_error, next_attempt_at)
		 VALUES ($1, $2, 0, $3, '', $4)
		 ON CONFLICT DO NOTHING`,
		projectID, models.SyncJobQueued, maxAttempts, nextAttemptAt.UTC())
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (p *PostgresDB) ClaimSyncJob(ctx context.Context) (*models.SyncJob, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE sync_jobs
		 SET status = $1,
			 attempt_count = attempt_count + 1,
			 started_at = NOW(),
			 completed_at = NULL,
			 updated_at = NOW()
		 WHERE id = (
			 SELECT id
			 FROM sync_jobs
			 WHERE status = $2
			   AND next_attempt_at <= NOW()
			 ORDER BY next_attempt_at ASC, id ASC
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+syncJobColumns,
		models.SyncJobRunning, models.SyncJobQueued)
	job, err := scanSyncJobRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (p *PostgresDB) RequeueSyncJob(ctx context.Context, jobID int64, errMsg string, nextAttemptAt time.Time) error {
	trimmedErr := strings.TrimSpace(errMsg)
	if trimmedErr == "" {
		trimmedErr = "job failed"
	}
	if nextAttemptAt.IsZero() {
		nextAttemptAt = time.Now().UTC()
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE sync_jobs
		 SET status = $1,
			 last_error = $2,
			 next_attempt_at = $3,
			 started_at = NULL,
			 updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		models.SyncJobQueued, trimmedErr, nextAttemptAt.UTC(), jobID, models.SyncJobRunning)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) CompleteSyncJob(ctx context.Context, jobID int64, status models.SyncJobStatus, errMsg string) error {
	trimmedErr := strings.TrimSpace(errMsg)
	switch status {
	case models.SyncJobCompleted:
		trimmedErr = ""
	case models.SyncJobFailed:
		if trimmedErr == "" {
			trimmedErr = "job failed"
		}
	default:
		return fmt.Errorf("unsupported terminal status %q", status)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE sync_jobs
		 SET status = $1,
			 last_error = $2,
			 completed_at = NOW(),
			 updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		status, trimmedErr, jobID, models.SyncJobRunning)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresDB) GetSyncJob(ctx context.Context, projectID int64) (*models.SyncJob, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE project_id = $1 ORDER BY id DESC LIMIT 1`, projectID)
	return scanSyncJobRow(row)
}

func (p *PostgresDB) ListProjectsNeedingSync(ctx context.Context, olderThan time.Time) ([]models.Project, error) {
	return p.queryProjects(ctx,
		`SELECT p.id, p.name, p.description, p.owner_id, p.manager_id, p.github_repo, p.created_at, p.updated_at
		 FROM projects p
		 LEFT JOIN repo_snapshots rs ON rs.project_id = p.id
		 WHERE p.github_repo != ''
		   AND (rs.id IS NULL OR rs.last_synced_at <= $1)
		 ORDER BY p.id ASC`, olderThan.UTC())
}

func (p *PostgresDB) ListProjectsWithRepo(ctx context.Context) ([]models.Project, error) {
	return p.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE github_repo != '' ORDER BY id ASC`)
}
