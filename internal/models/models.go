package models

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

// User roles.
const (
	RoleAdmin          = "admin"
	RoleProjectManager = "project_manager"
	RoleDeveloper      = "developer"
)

// Task statuses.
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	GitHubToken  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     int64     `json:"owner_id"`
	ManagerID   int64     `json:"manager_id"`
	GitHubRepo  string    `json:"github_repo,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	AssigneeID  int64     `json:"assignee_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RepoSnapshot is the cached copy of a project's linked GitHub repository
// metadata. One row per project, overwritten on every successful sync.
type RepoSnapshot struct {
	ID           int64     `json:"-"`
	ProjectID    int64     `json:"-"`
	Name         string    `json:"name"`
	FullName     string    `json:"full_name"`
	Description  string    `json:"description,omitempty"`
	URL          string    `json:"url"`
	Stars        int       `json:"stars"`
	Forks        int       `json:"forks"`
	OpenIssues   int       `json:"open_issues"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Fresh reports whether the snapshot is recent enough to serve without
// scheduling a refresh.
func (s *RepoSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.LastSyncedAt) < ttl
}

type SyncJobStatus string

const (
	SyncJobQueued    SyncJobStatus = "queued"
	SyncJobRunning   SyncJobStatus = "running"
	SyncJobCompleted SyncJobStatus = "completed"
	SyncJobFailed    SyncJobStatus = "failed"
)

// SyncJob is a persisted repository-refresh task.
type SyncJob struct {
	ID            int64         `json:"id"`
	ProjectID     int64         `json:"project_id"`
	Status        SyncJobStatus `json:"status"`
	AttemptCount  int           `json:"attempt_count"`
	MaxAttempts   int           `json:"max_attempts"`
	LastError     string        `json:"last_error,omitempty"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// ValidationError carries field-level validation messages.
type ValidationError struct {
	Fields map[string][]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s %s", f, strings.Join(e.Fields[f], ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	repoRefPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+/[A-Za-z0-9_-]+$`)
)

// ValidRepoRef reports whether ref is a well-formed "owner/repo" reference.
// The empty string is valid: it means no repository is linked.
func ValidRepoRef(ref string) bool {
	return ref == "" || repoRefPattern.MatchString(ref)
}

func (u *User) Validate() error {
	var verr ValidationError
	if strings.TrimSpace(u.Name) == "" {
		verr.Add("name", "can't be blank")
	}
	if u.Email == "" {
		verr.Add("email", "can't be blank")
	} else if !emailPattern.MatchString(u.Email) {
		verr.Add("email", "is invalid")
	}
	switch u.Role {
	case RoleAdmin, RoleProjectManager, RoleDeveloper:
	default:
		verr.Add("role", "is not included in the list")
	}
	return verr.OrNil()
}

// ValidatePassword enforces the password policy: at least 8 characters with
// one uppercase letter, one lowercase letter, one digit and one symbol.
func ValidatePassword(password string) error {
	var verr ValidationError
	if len(password) < 8 {
		verr.Add("password", "is too short (minimum is 8 characters)")
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		verr.Add("password", "must include at least one uppercase letter, one lowercase letter, one number, and one special character")
	}
	return verr.OrNil()
}

// Validate checks project invariants against the resolved owner and manager.
func (p *Project) Validate(owner, manager *User) error {
	var verr ValidationError
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name", "can't be blank")
	}
	if owner == nil || owner.Role != RoleAdmin {
		verr.Add("owner", "must be an admin user")
	}
	if manager == nil || manager.Role != RoleProjectManager {
		verr.Add("manager", "must have project_manager role")
	}
	if !ValidRepoRef(p.GitHubRepo) {
		verr.Add("github_repo", "must be in owner/repo format")
	}
	return verr.OrNil()
}

// Validate checks task invariants against the resolved assignee.
func (t *Task) Validate(assignee *User) error {
	var verr ValidationError
	if strings.TrimSpace(t.Description) == "" {
		verr.Add("description", "can't be blank")
	}
	switch t.Status {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone:
	default:
		verr.Add("status", "is not included in the list")
	}
	if assignee == nil || assignee.Role != RoleDeveloper {
		verr.Add("assignee", "must be a developer")
	}
	return verr.OrNil()
}
