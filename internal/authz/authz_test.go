package authz

import (
	"testing"

	"taskdesk/internal/domain"
)

func TestCanCreateTask(t *testing.T) {
	cases := []struct {
		role domain.Role
		want bool
	}{
		{domain.RoleAdmin, true},
		{domain.RoleLead, true},
		{domain.RoleTeam, false},
	}
	for _, c := range cases {
		if got := CanCreateTask(c.role); got != c.want {
			t.Errorf("CanCreateTask(%s) = %v, want %v", c.role, got, c.want)
		}
	}
}

func TestGrantableRole(t *testing.T) {
	cases := []struct {
		creator, target domain.Role
		want            bool
	}{
		{domain.RoleAdmin, domain.RoleLead, true},
		{domain.RoleAdmin, domain.RoleTeam, true},
		{domain.RoleAdmin, domain.RoleAdmin, false},
		{domain.RoleLead, domain.RoleTeam, true},
		{domain.RoleLead, domain.RoleLead, false},
		{domain.RoleLead, domain.RoleAdmin, false},
		{domain.RoleTeam, domain.RoleTeam, false},
	}
	for _, c := range cases {
		if got := GrantableRole(c.creator, c.target); got != c.want {
			t.Errorf("GrantableRole(%s, %s) = %v, want %v", c.creator, c.target, got, c.want)
		}
	}
}

func TestUpdatableFields(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleLead} {
		fs := UpdatableFields(role)
		if !fs.Title || !fs.Description || !fs.Status {
			t.Errorf("%s: expected full field set, got %+v", role, fs)
		}
	}
	fs := UpdatableFields(domain.RoleTeam)
	if fs.Title {
		t.Errorf("team must not mutate title")
	}
	if !fs.Description || !fs.Status {
		t.Errorf("team: expected description and status mutable, got %+v", fs)
	}
	if fs := UpdatableFields(domain.Role("nobody")); fs != (FieldSet{}) {
		t.Errorf("unknown role: expected empty field set, got %+v", fs)
	}
}

func TestCanUpdateTask(t *testing.T) {
	task := domain.Task{ID: 9, AssignedTo: 3}
	if !CanUpdateTask(domain.RoleAdmin, 1, task) {
		t.Errorf("admin should update any task")
	}
	if !CanUpdateTask(domain.RoleLead, 1, task) {
		t.Errorf("lead should update any task")
	}
	if !CanUpdateTask(domain.RoleTeam, 3, task) {
		t.Errorf("team should update own-assigned task")
	}
	if CanUpdateTask(domain.RoleTeam, 4, task) {
		t.Errorf("team must not update a task assigned to someone else")
	}
}

func TestTaskScope(t *testing.T) {
	if got := TaskScope(domain.RoleAdmin, 5); got != 0 {
		t.Errorf("admin scope = %d, want 0", got)
	}
	if got := TaskScope(domain.RoleLead, 5); got != 0 {
		t.Errorf("lead scope = %d, want 0", got)
	}
	if got := TaskScope(domain.RoleTeam, 5); got != 5 {
		t.Errorf("team scope = %d, want 5", got)
	}
}

func TestFilterUsers(t *testing.T) {
	users := []domain.User{
		{ID: 1, Role: domain.RoleAdmin},
		{ID: 2, Role: domain.RoleLead},
		{ID: 3, Role: domain.RoleTeam},
		{ID: 4, Role: domain.RoleTeam},
	}
	if got := FilterUsers(domain.RoleAdmin, users); len(got) != 4 {
		t.Errorf("admin sees %d users, want 4", len(got))
	}
	got := FilterUsers(domain.RoleTeam, users)
	if len(got) != 2 {
		t.Fatalf("team sees %d users, want 2", len(got))
	}
	for _, u := range got {
		if u.Role != domain.RoleTeam {
			t.Errorf("team listing leaked role %s", u.Role)
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("lead"); err != nil || r != domain.RoleLead {
		t.Fatalf("ParseRole(lead) = %v, %v", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
