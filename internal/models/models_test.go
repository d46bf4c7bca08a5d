package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/taskhub/internal/models"
)

func TestUserValidate(t *testing.T) {
	valid := models.User{Name: "Alice", Email: "alice@example.com", Role: models.RoleAdmin}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid user, got %v", err)
	}

	cases := []struct {
		name  string
		user  models.User
		field string
	}{
		{"blank name", models.User{Name: "  ", Email: "a@b.co", Role: models.RoleAdmin}, "name"},
		{"blank email", models.User{Name: "A", Role: models.RoleAdmin}, "email"},
		{"bad email", models.User{Name: "A", Email: "not-an-email", Role: models.RoleAdmin}, "email"},
		{"bad role", models.User{Name: "A", Email: "a@b.co", Role: "superuser"}, "role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.user.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			verr, ok := err.(*models.ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if len(verr.Fields[tc.field]) == 0 {
				t.Fatalf("expected error on %q, got %v", tc.field, verr.Fields)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	if err := models.ValidatePassword("Str0ng!pw"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}

	for _, pw := range []string{"Sh0r!t", "alllower1!", "ALLUPPER1!", "NoDigits!", "NoSymbol1"} {
		if err := models.ValidatePassword(pw); err == nil {
			t.Fatalf("expected %q to be rejected", pw)
		}
	}
}

func TestValidRepoRef(t *testing.T) {
	valid := []string{"", "rails/rails", "some-org/some_repo", "a/b"}
	for _, ref := range valid {
		if !models.ValidRepoRef(ref) {
			t.Errorf("expected %q to be valid", ref)
		}
	}
	invalid := []string{"rails", "rails/", "/rails", "a/b/c", "owner/repo name", "owner /repo", "owner/repo.js"}
	for _, ref := range invalid {
		if models.ValidRepoRef(ref) {
			t.Errorf("expected %q to be invalid", ref)
		}
	}
}

func TestProjectValidate(t *testing.T) {
	admin := &models.User{ID: 1, Role: models.RoleAdmin}
	pm := &models.User{ID: 2, Role: models.RoleProjectManager}
	dev := &models.User{ID: 3, Role: models.RoleDeveloper}

	p := models.Project{Name: "Apollo", GitHubRepo: "nasa/apollo"}
	if err := p.Validate(admin, pm); err != nil {
		t.Fatalf("expected valid project, got %v", err)
	}

	if err := p.Validate(pm, pm); err == nil {
		t.Fatal("expected owner role error")
	}
	if err := p.Validate(admin, dev); err == nil {
		t.Fatal("expected manager role error")
	}
	if err := p.Validate(admin, nil); err == nil {
		t.Fatal("expected missing manager error")
	}

	p.GitHubRepo = "not a repo"
	err := p.Validate(admin, pm)
	if err == nil || !strings.Contains(err.Error(), "github_repo") {
		t.Fatalf("expected github_repo error, got %v", err)
	}
}

func TestTaskValidate(t *testing.T) {
	dev := &models.User{ID: 3, Role: models.RoleDeveloper}
	pm := &models.User{ID: 2, Role: models.RoleProjectManager}

	task := models.Task{Description: "write docs", Status: models.TaskStatusTodo}
	if err := task.Validate(dev); err != nil {
		t.Fatalf("expected valid task, got %v", err)
	}
	if err := task.Validate(pm); err == nil {
		t.Fatal("expected assignee role error")
	}
	if err := task.Validate(nil); err == nil {
		t.Fatal("expected missing assignee error")
	}

	task.Status = "blocked"
	if err := task.Validate(dev); err == nil {
		t.Fatal("expected status error")
	}

	task = models.Task{Description: "   ", Status: models.TaskStatusTodo}
	if err := task.Validate(dev); err == nil {
		t.Fatal("expected description error")
	}
}

func TestRepoSnapshotFresh(t *testing.T) {
	now := time.Now()
	ttl := 24 * time.Hour

	var nilSnap *models.RepoSnapshot
	if nilSnap.Fresh(now, ttl) {
		t.Fatal("nil snapshot must not be fresh")
	}

	snap := &models.RepoSnapshot{LastSyncedAt: now.Add(-time.Hour)}
	if !snap.Fresh(now, ttl) {
		t.Fatal("hour-old snapshot should be fresh")
	}

	snap.LastSyncedAt = now.Add(-25 * time.Hour)
	if snap.Fresh(now, ttl) {
		t.Fatal("day-old snapshot should be stale")
	}

	// Exactly at the TTL boundary counts as stale.
	snap.LastSyncedAt = now.Add(-ttl)
	if snap.Fresh(now, ttl) {
		t.Fatal("snapshot exactly at TTL should be stale")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	var verr models.ValidationError
	verr.Add("name", "can't be blank")
	verr.Add("email", "is invalid")
	got := verr.Error()
	want := "email is invalid; name can't be blank"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
