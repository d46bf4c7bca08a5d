// Package ability decides whether a user may perform an action on a resource.
// Rules are evaluated top-down over plain resource snapshots; the first
// matching rule wins and anything unmatched is denied.
package ability

import (
	"slices"

	"github.com/odvcencio/taskhub/internal/models"
)

type Action string

const (
	ActionRead          Action = "read"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionUpdateName    Action = "update_name"
	ActionUpdateManager Action = "update_manager"
	ActionDestroy       Action = "destroy"
	ActionStats         Action = "stats"
	ActionManageTasks   Action = "manage_tasks"
	ActionUpdateStatus  Action = "update_status"
)

// Project is the snapshot of a project needed for an authorization decision.
type Project struct {
	OwnerID   int64
	ManagerID int64
}

// Task is the snapshot of a task needed for an authorization decision.
// ProjectAssigneeIDs holds the assignee ids of all tasks in the task's
// project; it feeds the developer read rule.
type Task struct {
	AssigneeID         int64
	Project            Project
	ProjectAssigneeIDs []int64
}

type resourceKind int

const (
	kindProject resourceKind = iota
	kindTask
)

type effect int

const (
	allow effect = iota
	deny
)

type rule struct {
	effect  effect
	role    string // empty matches any role
	actions []Action
	kind    resourceKind
	// predicate may be nil for unconditional rules. Exactly one of the
	// resource arguments is non-nil, matching kind.
	predicate func(actor *models.User, project *Project, task *Task) bool
}

// The rule table mirrors the role/ownership policy: one row per grant,
// ordered so the project_manager update_status deny precedes nothing that
// could override it.
var rules = []rule{
	{allow, "", []Action{ActionRead}, kindProject, nil},

	{allow, models.RoleAdmin, []Action{ActionCreate}, kindProject, nil},
	{allow, models.RoleAdmin,
		[]Action{ActionUpdate, ActionUpdateName, ActionUpdateManager, ActionDestroy, ActionStats},
		kindProject,
		func(actor *models.User, p *Project, _ *Task) bool { return p.OwnerID == actor.ID }},

	{allow, models.RoleProjectManager, []Action{ActionManageTasks}, kindProject,
		func(actor *models.User, p *Project, _ *Task) bool { return p.ManagerID == actor.ID }},
	{deny, models.RoleProjectManager, []Action{ActionUpdateStatus}, kindTask, nil},
	{allow, models.RoleProjectManager, []Action{ActionCreate, ActionUpdate, ActionDestroy}, kindTask,
		func(actor *models.User, _ *Project, t *Task) bool { return t.Project.ManagerID == actor.ID }},

	{allow, models.RoleDeveloper, []Action{ActionRead}, kindTask,
		func(actor *models.User, _ *Project, t *Task) bool {
			return slices.Contains(t.ProjectAssigneeIDs, actor.ID)
		}},
	{allow, models.RoleDeveloper, []Action{ActionUpdateStatus}, kindTask,
		func(actor *models.User, _ *Project, t *Task) bool { return t.AssigneeID == actor.ID }},
}

// CanProject reports whether actor may perform action on the project.
func CanProject(actor *models.User, action Action, project Project) bool {
	return decide(actor, action, kindProject, &project, nil)
}

// CanTask reports whether actor may perform action on the task.
func CanTask(actor *models.User, action Action, task Task) bool {
	return decide(actor, action, kindTask, nil, &task)
}

func decide(actor *models.User, action Action, kind resourceKind, project *Project, task *Task) bool {
	if actor == nil {
		return false
	}
	for _, r := range rules {
		if r.kind != kind {
			continue
		}
		if r.role != "" && r.role != actor.Role {
			continue
		}
		if !slices.Contains(r.actions, action) {
			continue
		}
		if r.predicate != nil && !r.predicate(actor, project, task) {
			continue
		}
		return r.effect == allow
	}
	return false
}
