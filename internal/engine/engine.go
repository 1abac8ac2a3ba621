// Package engine implements the tracker's operations: login, user and task
// management. Every mutating operation re-derives its permissions from the
// authenticated principal through the internal/authz decision table, and
// every task mutation commits atomically with its audit log entry.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskdesk/internal/audit"
	"taskdesk/internal/authz"
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/repo"
	"taskdesk/internal/token"
)

// ErrAuthFailure is returned by Login for any credential failure. It does
// not say whether the email or the password was wrong.
var ErrAuthFailure = errors.New("invalid credentials")

// ValidationError reports malformed input with a user-facing reason.
// Unlike forbidden errors it is not a security boundary, so the reason is
// allowed to be specific.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Logs   audit.Writer
	Tokens token.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, tokens token.Service) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Logs:   audit.Writer{DB: db},
		Tokens: tokens,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) bcryptCost() int {
	if e.Config != nil && e.Config.Auth.BcryptCost > 0 {
		return e.Config.Auth.BcryptCost
	}
	return bcrypt.DefaultCost
}

// Login verifies credentials and mints a session token. Both unknown email
// and wrong password collapse to ErrAuthFailure.
func (e Engine) Login(ctx context.Context, email, password string) (string, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrAuthFailure
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrAuthFailure
	}
	tok, err := e.Tokens.Issue(u)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return tok, nil
}

// UserCreateOptions are parameters for creating a user.
type UserCreateOptions struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// CreateUser creates a user on behalf of the principal. Team members cannot
// create users at all (forbidden actor); admin may mint lead or team, lead
// only team — an out-of-range target role is a validation failure, not a
// generic 403.
func (e Engine) CreateUser(ctx context.Context, p token.Principal, opts UserCreateOptions) (domain.User, error) {
	if !authz.CanCreateUser(p.Role) {
		return domain.User{}, authz.ForbiddenError{Action: authz.ActionCreateUser}
	}
	// Stored trimmed, looked up trimmed at login.
	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Name == "" {
		return domain.User{}, ValidationError{Field: "name", Reason: "is required"}
	}
	if opts.Email == "" {
		return domain.User{}, ValidationError{Field: "email", Reason: "is required"}
	}
	if opts.Password == "" {
		return domain.User{}, ValidationError{Field: "password", Reason: "is required"}
	}
	if !opts.Role.Valid() {
		return domain.User{}, ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", opts.Role)}
	}
	if !authz.GrantableRole(p.Role, opts.Role) {
		return domain.User{}, ValidationError{Field: "role", Reason: fmt.Sprintf("%s may not create a %s user", p.Role, opts.Role)}
	}
	exists, err := e.Repo.EmailExists(ctx, opts.Email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, ValidationError{Field: "email", Reason: "already in use"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), e.bcryptCost())
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		Name:         opts.Name,
		Email:        opts.Email,
		Role:         opts.Role,
		PasswordHash: string(hash),
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, &u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// ListUsers returns users visible to the principal: everything for admin
// and lead, only team rows for team members.
func (e Engine) ListUsers(ctx context.Context, p token.Principal) ([]domain.User, error) {
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return authz.FilterUsers(p.Role, users), nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	AssignedTo  int64
}

// CreateTask creates a task with status Not Started. Only admin and lead
// may create; the assignee must be an existing user. The task row and its
// audit entry commit in one transaction.
func (e Engine) CreateTask(ctx context.Context, p token.Principal, opts TaskCreateOptions) (domain.Task, error) {
	if !authz.CanCreateTask(p.Role) {
		return domain.Task{}, authz.ForbiddenError{Action: authz.ActionCreateTask}
	}
	if opts.Title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.AssignedTo == 0 {
		return domain.Task{}, ValidationError{Field: "assigned_to", Reason: "is required"}
	}
	if _, err := e.Repo.GetUser(ctx, opts.AssignedTo); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, ValidationError{Field: "assigned_to", Reason: "unknown user"}
		}
		return domain.Task{}, fmt.Errorf("lookup assignee: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.StatusNotStarted,
		CreatedBy:   p.ID,
		AssignedTo:  opts.AssignedTo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, &t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Logs.Append(ctx, tx, t.ID, audit.ActionCreate, "Task created", p.ID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions is a partial update; nil fields keep their previous
// values.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	Status      *string
}

// UpdateTask applies a partial update. The effective field set comes from
// the principal's role: a team member's title change is coalesced to the
// existing value rather than rejected. updated_at is refreshed and exactly
// one audit entry is appended on every accepted update, even an empty one.
// The whole read-modify-write runs in one transaction: the snapshot the
// coalesce fills from is the same one the write replaces.
func (e Engine) UpdateTask(ctx context.Context, p token.Principal, id int64, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return t, err
	}
	if !authz.CanUpdateTask(p.Role, p.ID, t) {
		return domain.Task{}, authz.ForbiddenError{Action: authz.ActionUpdateTask}
	}
	fields := authz.UpdatableFields(p.Role)
	if opts.Title != nil && fields.Title {
		if *opts.Title == "" {
			return domain.Task{}, ValidationError{Field: "title", Reason: "must not be empty"}
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil && fields.Description {
		t.Description = *opts.Description
	}
	if opts.Status != nil && fields.Status {
		status := domain.Status(*opts.Status)
		if !status.Valid() {
			return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *opts.Status)}
		}
		// Any enumerated status may follow any other; the state machine
		// is deliberately flat and the invariant enforced here is field
		// mutability, not transition legality.
		t.Status = status
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := e.Logs.Append(ctx, tx, t.ID, audit.ActionUpdate, "Task updated", p.ID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasks returns tasks visible to the principal. Team members see only
// tasks assigned to them; the scoping happens in the query, not the client.
func (e Engine) ListTasks(ctx context.Context, p token.Principal) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{AssigneeID: authz.TaskScope(p.Role, p.ID)})
}

// GetTask returns a single task. Reads are unrestricted for authenticated
// principals.
func (e Engine) GetTask(ctx context.Context, p token.Principal, id int64) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// SeedAdmin creates the bootstrap admin account if and only if the users
// table is empty. It reports whether the row was created.
func (e Engine) SeedAdmin(ctx context.Context, name, email, password string) (domain.User, bool, error) {
	email = strings.TrimSpace(email)
	count, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return domain.User{}, false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), e.bcryptCost())
	if err != nil {
		return domain.User{}, false, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		Name:         name,
		Email:        email,
		Role:         domain.RoleAdmin,
		PasswordHash: string(hash),
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, &u); err != nil {
		return domain.User{}, false, fmt.Errorf("insert admin: %w", err)
	}
	return u, true, nil
}
