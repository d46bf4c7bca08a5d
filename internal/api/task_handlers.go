package api

import (
	"encoding/json"
	"net/http"

	"github.com/odvcencio/taskhub/internal/ability"
	"github.com/odvcencio/taskhub/internal/models"
)

type createTaskRequest struct {
	Description string `json:"description"`
	AssigneeID  int64  `json:"assignee_id"`
}

type updateTaskRequest struct {
	Description *string `json:"description"`
	AssigneeID  *int64  `json:"assignee_id"`
}

type updateTaskStatusRequest struct {
	Status string `json:"status"`
}

// loadTask resolves the {id} path segment along with the task's project. A
// missing task is reported before any authorization check runs.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*models.Task, *models.Project, bool) {
	id, ok := parsePathID(w, r, "task id")
	if !ok {
		return nil, nil, false
	}
	task, err := s.db.GetTaskByID(r.Context(), id)
	if err != nil {
		writeError(w, err, "task not found")
		return nil, nil, false
	}
	project, err := s.db.GetProjectByID(r.Context(), task.ProjectID)
	if err != nil {
		writeError(w, err, "task not found")
		return nil, nil, false
	}
	return task, project, true
}

func (s *Server) abilityTask(r *http.Request, task *models.Task, project *models.Project) (ability.Task, error) {
	assigneeIDs, err := s.db.ProjectTaskAssigneeIDs(r.Context(), project.ID)
	if err != nil {
		return ability.Task{}, err
	}
	return ability.Task{
		AssigneeID:         task.AssigneeID,
		Project:            abilityProject(project),
		ProjectAssigneeIDs: assigneeIDs,
	}, nil
}

// Tasks are listed oldest-first, the opposite of project listings.
func (s *Server) handleListProjectTasks(w http.ResponseWriter, r *http.Request) {
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

	tasks := []models.Task{}
	var err error
	switch user.Role {
	case models.RoleAdmin:
		if project.OwnerID == user.ID {
			tasks, err = s.db.ListProjectTasks(r.Context(), project.ID)
		}
	case models.RoleProjectManager:
		if project.ManagerID == user.ID {
			tasks, err = s.db.ListProjectTasks(r.Context(), project.ID)
		}
	case models.RoleDeveloper:
		tasks, err = s.db.ListProjectTasksForAssignee(r.Context(), project.ID, user.ID)
	}
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task := &models.Task{
		ProjectID:   project.ID,
		AssigneeID:  req.AssigneeID,
		Description: req.Description,
		Status:      models.TaskStatusTodo,
	}
	snapshot := ability.Task{AssigneeID: task.AssigneeID, Project: abilityProject(project)}
	if !ability.CanTask(user, ability.ActionCreate, snapshot) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	assignee := s.lookupUser(r, req.AssigneeID)
	if err := task.Validate(assignee); err != nil {
		writeError(w, err, "")
		return
	}

	if err := s.db.CreateTask(r.Context(), task); err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	task, project, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	snapshot, err := s.abilityTask(r, task, project)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ability.CanTask(user, ability.ActionRead, snapshot) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	task, project, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	snapshot := ability.Task{AssigneeID: task.AssigneeID, Project: abilityProject(project)}
	if !ability.CanTask(user, ability.ActionUpdate, snapshot) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.AssigneeID != nil {
		task.AssigneeID = *req.AssigneeID
	}

	assignee := s.lookupUser(r, task.AssigneeID)
	if err := task.Validate(assignee); err != nil {
		writeError(w, err, "")
		return
	}

	if err := s.db.UpdateTask(r.Context(), task); err != nil {
		writeError(w, err, "task not found")
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	task, project, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	snapshot := ability.Task{AssigneeID: task.AssigneeID, Project: abilityProject(project)}
	if !ability.CanTask(user, ability.ActionDestroy, snapshot) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := s.db.DeleteTask(r.Context(), task.ID); err != nil {
		writeError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	task, project, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	snapshot := ability.Task{AssigneeID: task.AssigneeID, Project: abilityProject(project)}
	if !ability.CanTask(user, ability.ActionUpdateStatus, snapshot) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req updateTaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Status {
	case models.TaskStatusTodo, models.TaskStatusInProgress, models.TaskStatusDone:
	default:
		verr := &models.ValidationError{}
		verr.Add("status", "is not included in the list")
		jsonValidationError(w, verr)
		return
	}

	if err := s.db.UpdateTaskStatus(r.Context(), task.ID, req.Status); err != nil {
		writeError(w, err, "task not found")
		return
	}
	task.Status = req.Status
	jsonResponse(w, http.StatusOK, task)
}
