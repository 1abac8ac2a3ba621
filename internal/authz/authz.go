// Package authz is the authorization engine: a pure decision table over
// (role, action, target). Every mutating operation in the engine consults it;
// nothing in here touches the database or trusts client-declared roles.
package authz

import (
	"fmt"

	"taskdesk/internal/domain"
)

// Action names an operation subject to the decision table.
type Action string

const (
	ActionCreateTask Action = "task.create"
	ActionUpdateTask Action = "task.update"
	ActionListTasks  Action = "task.list"
	ActionCreateUser Action = "user.create"
	ActionListUsers  Action = "user.list"
)

// ForbiddenError indicates the actor lacks permission for an action. The
// message stays generic on purpose; callers map it to a bare 403.
type ForbiddenError struct {
	Action Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ParseRole converts a wire string into a Role.
func ParseRole(s string) (domain.Role, error) {
	r := domain.Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// CanCreateTask reports whether a role may create tasks. Team members are
// assignees only.
func CanCreateTask(r domain.Role) bool {
	return r == domain.RoleAdmin || r == domain.RoleLead
}

// CanCreateUser reports whether a role may create users at all. This is the
// actor check; whether the requested target role is grantable is a separate
// question answered by GrantableRole, so that a forbidden actor yields a 403
// while a forbidden role target yields a validation error.
func CanCreateUser(r domain.Role) bool {
	return r == domain.RoleAdmin || r == domain.RoleLead
}

// GrantableRole reports whether creator may mint a user with the target
// role. Admin mints lead or team; lead mints team only. Nobody mints admin.
func GrantableRole(creator, target domain.Role) bool {
	switch creator {
	case domain.RoleAdmin:
		return target == domain.RoleLead || target == domain.RoleTeam
	case domain.RoleLead:
		return target == domain.RoleTeam
	}
	return false
}

// CanUpdateTask reports whether the principal may touch the task at all.
// Admin and lead update any task; a team member only tasks assigned to them.
func CanUpdateTask(r domain.Role, principalID int64, t domain.Task) bool {
	switch r {
	case domain.RoleAdmin, domain.RoleLead:
		return true
	case domain.RoleTeam:
		return t.AssignedTo == principalID
	}
	return false
}

// FieldSet is the set of task fields a role may mutate. Fields submitted
// outside the set are coalesced to their current values rather than
// rejected, matching the tracker's long-standing update semantics.
type FieldSet struct {
	Title       bool
	Description bool
	Status      bool
}

// UpdatableFields returns the effective field set for a role. The set is
// re-derived from the authenticated role on every request; nothing the
// client sends can widen it.
func UpdatableFields(r domain.Role) FieldSet {
	switch r {
	case domain.RoleAdmin, domain.RoleLead:
		return FieldSet{Title: true, Description: true, Status: true}
	case domain.RoleTeam:
		return FieldSet{Description: true, Status: true}
	}
	return FieldSet{}
}

// TaskScope narrows a task listing to what the principal may see. It
// returns the assignee id to filter by, or 0 for an unrestricted view.
// This is a view transform, not a separate permission: the same query runs
// for everyone and team results are scoped to their own assignments.
func TaskScope(r domain.Role, principalID int64) int64 {
	if r == domain.RoleTeam {
		return principalID
	}
	return 0
}

// VisibleUser reports whether a listed user row is visible to the role.
// Team members see only fellow team members.
func VisibleUser(r domain.Role, u domain.User) bool {
	if r == domain.RoleTeam {
		return u.Role == domain.RoleTeam
	}
	return true
}

// FilterUsers applies VisibleUser to a listing.
func FilterUsers(r domain.Role, users []domain.User) []domain.User {
	if r != domain.RoleTeam {
		return users
	}
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if VisibleUser(r, u) {
			out = append(out, u)
		}
	}
	return out
}
