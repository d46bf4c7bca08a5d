package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/odvcencio/taskhub/internal/ability"
	"github.com/odvcencio/taskhub/internal/models"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ManagerID   int64  `json:"manager_id"`
	GitHubRepo  string `json:"github_repo"`
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ManagerID   *int64  `json:"manager_id"`
	GitHubRepo  *string `json:"github_repo"`
}

func abilityProject(p *models.Project) ability.Project {
	return ability.Project{OwnerID: p.OwnerID, ManagerID: p.ManagerID}
}

// loadProject resolves the {id} path segment. A missing project is reported
// before any authorization check runs.
func (s *Server) loadProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	id, ok := parsePathID(w, r, "project id")
	if !ok {
		return nil, false
	}
	project, err := s.db.GetProjectByID(r.Context(), id)
	if err != nil {
		writeError(w, err, "project not found")
		return nil, false
	}
	return project, true
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var projects []models.Project
	var err error
	switch user.Role {
	case models.RoleAdmin:
		projects, err = s.db.ListProjectsOwnedBy(r.Context(), user.ID)
	case models.RoleProjectManager:
		projects, err = s.db.ListProjectsManagedBy(r.Context(), user.ID)
	case models.RoleDeveloper:
		projects, err = s.db.ListProjectsWithAssignee(r.Context(), user.ID)
	default:
		projects = []models.Project{}
	}
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     user.ID,
		ManagerID:   req.ManagerID,
		GitHubRepo:  req.GitHubRepo,
	}
	if !ability.CanProject(user, ability.ActionCreate, abilityProject(project)) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	manager := s.lookupUser(r, req.ManagerID)
	if err := project.Validate(user, manager); err != nil {
		writeError(w, err, "")
		return
	}
	if taken, err := s.projectNameTaken(r, project.Name, 0); err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	} else if taken {
		verr := &models.ValidationError{}
		verr.Add("name", "has already been taken")
		jsonValidationError(w, verr)
		return
	}

	if err := s.db.CreateProject(r.Context(), project); err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !ability.CanProject(user, ability.ActionRead, abilityProject(project)) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}
	jsonResponse(w, http.StatusOK, project)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !ability.CanProject(user, ability.ActionUpdate, abilityProject(project)) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.ManagerID != nil {
		project.ManagerID = *req.ManagerID
	}
	if req.GitHubRepo != nil {
		project.GitHubRepo = *req.GitHubRepo
	}

	owner := s.lookupUser(r, project.OwnerID)
	manager := s.lookupUser(r, project.ManagerID)
	if err := project.Validate(owner, manager); err != nil {
		writeError(w, err, "")
		return
	}
	if taken, err := s.projectNameTaken(r, project.Name, project.ID); err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	} else if taken {
		verr := &models.ValidationError{}
		verr.Add("name", "has already been taken")
		jsonValidationError(w, verr)
		return
	}

	if err := s.db.UpdateProject(r.Context(), project); err != nil {
		writeError(w, err, "project not found")
		return
	}
	jsonResponse(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !ability.CanProject(user, ability.ActionDestroy, abilityProject(project)) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := s.db.DeleteProject(r.Context(), project.ID); err != nil {
		writeError(w, err, "project not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskCounts struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
}

type projectStatsView struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Tasks     taskCounts `json:"tasks"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type projectStatsResponse struct {
	Project projectStatsView     `json:"project"`
	GitHub  *models.RepoSnapshot `json:"github"`
	Source  string               `json:"github_source,omitempty"`
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !ability.CanProject(user, ability.ActionStats, abilityProject(project)) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	counts, err := s.db.CountTasksByStatus(r.Context(), project.ID)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := projectStatsResponse{
		Project: projectStatsView{
			ID:   project.ID,
			Name: project.Name,
			Tasks: taskCounts{
				Total:      counts[models.TaskStatusTodo] + counts[models.TaskStatusInProgress] + counts[models.TaskStatusDone],
				Todo:       counts[models.TaskStatusTodo],
				InProgress: counts[models.TaskStatusInProgress],
				Done:       counts[models.TaskStatusDone],
			},
			CreatedAt: project.CreatedAt,
			UpdatedAt: project.UpdatedAt,
		},
	}

	if project.GitHubRepo != "" {
		snapshot, source, err := s.syncSvc.RepositorySnapshot(r.Context(), project, user)
		if err != nil {
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		resp.GitHub = snapshot
		resp.Source = string(source)
	}

	jsonResponse(w, http.StatusOK, resp)
}

// lookupUser returns nil when the user does not exist; validation turns that
// into the appropriate field error.
func (s *Server) lookupUser(r *http.Request, id int64) *models.User {
	if id == 0 {
		return nil
	}
	user, err := s.db.GetUserByID(r.Context(), id)
	if err != nil {
		return nil
	}
	return user
}

func (s *Server) projectNameTaken(r *http.Request, name string, selfID int64) (bool, error) {
	existing, err := s.db.GetProjectByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return existing.ID != selfID, nil
}
