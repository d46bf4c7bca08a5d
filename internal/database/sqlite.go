package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/taskhub/internal/models"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and foreign keys
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	github_token TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	owner_id INTEGER NOT NULL REFERENCES users(id),
	manager_id INTEGER NOT NULL REFERENCES users(id),
	github_repo TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);
CREATE INDEX IF NOT EXISTS idx_projects_manager ON projects(manager_id);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	assignee_id INTEGER NOT NULL REFERENCES users(id),
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'todo',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);

CREATE TABLE IF NOT EXISTS repo_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	stars INTEGER NOT NULL DEFAULT 0,
	forks INTEGER NOT NULL DEFAULT 0,
	open_issues INTEGER NOT NULL DEFAULT 0,
	last_synced_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'queued',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_project ON sync_jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status, next_attempt_at);
CREATE UNIQUE INDEX IF NOT EXISTS sync_jobs_one_active ON sync_jobs(project_id) WHERE status IN ('queued', 'running');
`

func sqliteTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Users

func (s *SQLiteDB) CreateUser(ctx context.Context, u *models.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, github_token) VALUES (?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.GitHubToken)
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, github_token, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, role, github_token, created_at FROM users WHERE email = ?`, email))
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.GitHubToken, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Projects

const projectColumns = `id, name, description, owner_id, manager_id, github_repo, created_at, updated_at`

func (s *SQLiteDB) CreateProject(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, owner_id, manager_id, github_repo) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.OwnerID, p.ManagerID, p.GitHubRepo)
	if err != nil {
		return err
	}
	p.ID, _ = res.LastInsertId()
	loaded, err := s.GetProjectByID(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *loaded
	return nil
}

func (s *SQLiteDB) GetProjectByID(ctx context.Context, id int64) (*models.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

func (s *SQLiteDB) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
}

func (s *SQLiteDB) UpdateProject(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, manager_id = ?, github_repo = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		p.Name, p.Description, p.ManagerID, p.GitHubRepo, p.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) ListProjectsOwnedBy(ctx context.Context, userID int64) ([]models.Project, error) {
	return s.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (s *SQLiteDB) ListProjectsManagedBy(ctx context.Context, userID int64) ([]models.Project, error) {
	return s.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE manager_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (s *SQLiteDB) ListProjectsWithAssignee(ctx context.Context, userID int64) ([]models.Project, error) {
	return s.queryProjects(ctx,
		`SELECT DISTINCT p.id, p.name, p.description, p.owner_id, p.manager_id, p.github_repo, p.created_at, p.updated_at
		 FROM projects p
		 JOIN tasks t ON t.project_id = p.id
		 WHERE t.assignee_id = ?
		 ORDER BY p.created_at DESC, p.id DESC`, userID)
}

func (s *SQLiteDB) queryProjects(ctx context.Context, query string, args ...any) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.ManagerID, &p.GitHubRepo, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row *sql.Row) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.ManagerID, &p.GitHubRepo, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Tasks

const taskColumns = `id, project_id, assignee_id, description, status, created_at, updated_at`

func (s *SQLiteDB) CreateTask(ctx context.Context, t *models.Task) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (project_id, assignee_id, description, status) VALUES (?, ?, ?, ?)`,
		t.ProjectID, t.AssigneeID, t.Description, t.Status)
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	loaded, err := s.GetTaskByID(ctx, t.ID)
	if err != nil {
		return err
	}
	*t = *loaded
	return nil
}

func (s *SQLiteDB) GetTaskByID(ctx context.Context, id int64) (*models.Task, error) {
	var t models.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.ProjectID, &t.AssigneeID, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteDB) UpdateTask(ctx context.Context, t *models.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET description = ?, assignee_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		t.Description, t.AssigneeID, t.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) UpdateTaskStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) ListProjectTasks(ctx context.Context, projectID int64) ([]models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
}

func (s *SQLiteDB) ListProjectTasksForAssignee(ctx context.Context, projectID, assigneeID int64) ([]models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND assignee_id = ? ORDER BY created_at ASC, id ASC`,
		projectID, assigneeID)
}

func (s *SQLiteDB) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteDB) ProjectTaskAssigneeIDs(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT assignee_id FROM tasks WHERE project_id = ?`, projectID)
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

func (s *SQLiteDB) CountTasksByStatus(ctx context.Context, projectID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status`, projectID)
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

func (s *SQLiteDB) GetRepoSnapshot(ctx context.Context, projectID int64) (*models.RepoSnapshot, error) {
	var snap models.RepoSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, full_name, description, url, stars, forks, open_issues, last_synced_at
		 FROM repo_snapshots WHERE project_id = ?`, projectID).
		Scan(&snap.ID, &snap.ProjectID, &snap.Name, &snap.FullName, &snap.Description, &snap.URL,
			&snap.Stars, &snap.Forks, &snap.OpenIssues, &snap.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteDB) UpsertRepoSnapshot(ctx context.Context, snap *models.RepoSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_snapshots (project_id, name, full_name, description, url, stars, forks, open_issues, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime(?))
		 ON CONFLICT(project_id) DO UPDATE SET
			 name = excluded.name,
			 full_name = excluded.full_name,
			 description = excluded.description,
			 url = excluded.url,
			 stars = excluded.stars,
			 forks = excluded.forks,
			 open_issues = excluded.open_issues,
			 last_synced_at = excluded.last_synced_at`,
		snap.ProjectID, snap.Name, snap.FullName, snap.Description, snap.URL,
		snap.Stars, snap.Forks, snap.OpenIssues, sqliteTimestamp(snap.LastSyncedAt))
	return err
}

// Sync jobs

const syncJobColumns = `id, project_id, status, attempt_count, max_attempts, last_error, next_attempt_at, created_at, updated_at, started_at, completed_at`

// EnqueueSyncJob inserts a queued refresh job unless the project already has
// one queued or running. Reports whether a job was inserted. The
// sync_jobs_one_active unique index makes the insert-if-absent atomic.
func (s *SQLiteDB) EnqueueSyncJob(ctx context.Context, projectID int64, maxAttempts int, nextAttemptAt time.Time) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if nextAttemptAt.IsZero() {
		nextAttemptAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_jobs (project_id, status, attempt_count, max_attempts, last_error, next_attempt_at)
		 VALUES (?, ?, 0, ?, '', datetime(?))
		 ON CONFLICT DO NOTHING`,
		projectID, models.SyncJobQueued, maxAttempts, sqliteTimestamp(nextAttemptAt))
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *SQLiteDB) ClaimSyncJob(ctx context.Context) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE sync_jobs
		 SET status = ?,
			 attempt_count = attempt_count + 1,
			 started_at = CURRENT_TIMESTAMP,
			 completed_at = NULL,
			 updated_at = CURRENT_TIMESTAMP
		 WHERE id = (
			 SELECT id
			 FROM sync_jobs
			 WHERE status = ?
			   AND datetime(next_attempt_at) <= CURRENT_TIMESTAMP
			 ORDER BY next_attempt_at ASC, id ASC
			 LIMIT 1
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

func (s *SQLiteDB) RequeueSyncJob(ctx context.Context, jobID int64, errMsg string, nextAttemptAt time.Time) error {
	trimmedErr := strings.TrimSpace(errMsg)
	if trimmedErr == "" {
		trimmedErr = "job failed"
	}
	if nextAttemptAt.IsZero() {
		nextAttemptAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs
		 SET status = ?,
			 last_error = ?,
			 next_attempt_at = datetime(?),
			 started_at = NULL,
			 updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		models.SyncJobQueued, trimmedErr, sqliteTimestamp(nextAttemptAt), jobID, models.SyncJobRunning)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteDB) CompleteSyncJob(ctx context.Context, jobID int64, status models.SyncJobStatus, errMsg string) error {
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs
		 SET status = ?,
			 last_error = ?,
			 completed_at = CURRENT_TIMESTAMP,
			 updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		status, trimmedErr, jobID, models.SyncJobRunning)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetSyncJob returns the most recent sync job for a project.
func (s *SQLiteDB) GetSyncJob(ctx context.Context, projectID int64) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncJobColumns+` FROM sync_jobs WHERE project_id = ? ORDER BY id DESC LIMIT 1`, projectID)
	return scanSyncJobRow(row)
}

func scanSyncJobRow(row *sql.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.ProjectID, &job.Status, &job.AttemptCount, &job.MaxAttempts,
		&job.LastError, &job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func (s *SQLiteDB) ListProjectsNeedingSync(ctx context.Context, olderThan time.Time) ([]models.Project, error) {
	return s.queryProjects(ctx,
		`SELECT p.id, p.name, p.description, p.owner_id, p.manager_id, p.github_repo, p.created_at, p.updated_at
		 FROM projects p
		 LEFT JOIN repo_snapshots rs ON rs.project_id = p.id
		 WHERE p.github_repo != ''
		   AND (rs.id IS NULL OR datetime(rs.last_synced_at) <= datetime(?))
		 ORDER BY p.id ASC`,
		sqliteTimestamp(olderThan))
}

func (s *SQLiteDB) ListProjectsWithRepo(ctx context.Context) ([]models.Project, error) {
	return s.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE github_repo != '' ORDER BY id ASC`)
}
