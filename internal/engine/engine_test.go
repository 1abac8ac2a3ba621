package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskdesk/internal/authz"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
	"taskdesk/internal/token"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time

	Admin domain.User
	Lead  domain.User
	Ann   domain.User
	Bob   domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	cfg := config.Default()
	cfg.Auth.BcryptCost = bcrypt.MinCost
	eng := engine.New(conn, cfg, token.Service{Secret: "test-secret", Now: now})
	eng.Now = now
	eng.Logs.Now = now
	ctx := context.Background()

	env := &testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
	env.Admin, _, err = eng.SeedAdmin(ctx, "Administrator", "admin@example.com", "root-pass")
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	env.Lead = env.mustCreateUser(t, env.Admin, "Lena Lead", "lena@example.com", domain.RoleLead)
	env.Ann = env.mustCreateUser(t, env.Admin, "Ann", "ann@example.com", domain.RoleTeam)
	env.Bob = env.mustCreateUser(t, env.Admin, "Bob", "bob@example.com", domain.RoleTeam)
	return env
}

func (env *testEnv) mustCreateUser(t *testing.T, actor domain.User, name, email string, role domain.Role) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, principal(actor), engine.UserCreateOptions{
		Name: name, Email: email, Password: "pw-" + name, Role: role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (env *testEnv) mustCreateTask(t *testing.T, actor domain.User, title string, assignee domain.User) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, principal(actor), engine.TaskCreateOptions{
		Title: title, Description: "desc of " + title, AssignedTo: assignee.ID,
	})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func principal(u domain.User) token.Principal {
	return token.Principal{ID: u.ID, Role: u.Role}
}

func str(s string) *string { return &s }

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	tok, err := env.Engine.Login(env.Ctx, "ann@example.com", "pw-Ann")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	p, err := env.Engine.Tokens.Verify(tok)
	if err != nil {
		t.Fatalf("verify minted token: %v", err)
	}
	if p.ID != env.Ann.ID || p.Role != domain.RoleTeam {
		t.Fatalf("principal = %+v, want Ann/team", p)
	}

	// Wrong password and unknown email fail identically.
	_, badPass := env.Engine.Login(env.Ctx, "ann@example.com", "nope")
	_, badUser := env.Engine.Login(env.Ctx, "ghost@example.com", "nope")
	if !errors.Is(badPass, engine.ErrAuthFailure) || !errors.Is(badUser, engine.ErrAuthFailure) {
		t.Fatalf("want ErrAuthFailure for both, got %v / %v", badPass, badUser)
	}
	if badPass.Error() != badUser.Error() {
		t.Fatalf("credential failures must be indistinguishable: %q vs %q", badPass, badUser)
	}
}

func TestCreateTaskAuthorization(t *testing.T) {
	env := newTestEnv(t)
	for _, actor := range []domain.User{env.Admin, env.Lead} {
		task := env.mustCreateTask(t, actor, "by "+string(actor.Role), env.Ann)
		if task.Status != domain.StatusNotStarted {
			t.Fatalf("new task status = %q, want %q", task.Status, domain.StatusNotStarted)
		}
		if task.CreatedBy != actor.ID {
			t.Fatalf("created_by = %d, want %d", task.CreatedBy, actor.ID)
		}
	}

	_, err := env.Engine.CreateTask(env.Ctx, principal(env.Ann), engine.TaskCreateOptions{
		Title: "sneaky", AssignedTo: env.Ann.ID,
	})
	var forbidden authz.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("team create task: got %v, want forbidden", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, principal(env.Lead), engine.TaskCreateOptions{
		Title: "orphan", AssignedTo: 9999,
	})
	var vErr engine.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "assigned_to" {
		t.Fatalf("unknown assignee: got %v, want assigned_to validation error", err)
	}
}

func TestCreateUserRoleMinting(t *testing.T) {
	env := newTestEnv(t)

	// Lead may only mint team.
	if _, err := env.Engine.CreateUser(env.Ctx, principal(env.Lead), engine.UserCreateOptions{
		Name: "Tom", Email: "tom@example.com", Password: "pw", Role: domain.RoleTeam,
	}); err != nil {
		t.Fatalf("lead creates team: %v", err)
	}
	var vErr engine.ValidationError
	for _, target := range []domain.Role{domain.RoleLead, domain.RoleAdmin} {
		_, err := env.Engine.CreateUser(env.Ctx, principal(env.Lead), engine.UserCreateOptions{
			Name: "X", Email: "x@example.com", Password: "pw", Role: target,
		})
		if !errors.As(err, &vErr) || vErr.Field != "role" {
			t.Fatalf("lead mints %s: got %v, want role validation error", target, err)
		}
	}

	// Admin may mint lead and team but never another admin.
	_, err := env.Engine.CreateUser(env.Ctx, principal(env.Admin), engine.UserCreateOptions{
		Name: "Eve", Email: "eve@example.com", Password: "pw", Role: domain.RoleAdmin,
	})
	if !errors.As(err, &vErr) || vErr.Field != "role" {
		t.Fatalf("admin mints admin: got %v, want role validation error", err)
	}

	// Team cannot create users at all; that is an actor failure, not a
	// target-role one.
	_, err = env.Engine.CreateUser(env.Ctx, principal(env.Ann), engine.UserCreateOptions{
		Name: "Y", Email: "y@example.com", Password: "pw", Role: domain.RoleTeam,
	})
	var forbidden authz.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("team creates user: got %v, want forbidden", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateUser(env.Ctx, principal(env.Admin), engine.UserCreateOptions{
		Name: "Ann Again", Email: "ann@example.com", Password: "pw", Role: domain.RoleTeam,
	})
	var vErr engine.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "email" {
		t.Fatalf("duplicate email: got %v, want email validation error", err)
	}
}

func TestListUsersVisibility(t *testing.T) {
	env := newTestEnv(t)

	all, err := env.Engine.ListUsers(env.Ctx, principal(env.Lead))
	if err != nil {
		t.Fatalf("lead list users: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("lead sees %d users, want 4", len(all))
	}

	teamOnly, err := env.Engine.ListUsers(env.Ctx, principal(env.Ann))
	if err != nil {
		t.Fatalf("team list users: %v", err)
	}
	for _, u := range teamOnly {
		if u.Role != domain.RoleTeam {
			t.Fatalf("team member sees %s user %s", u.Role, u.Email)
		}
	}
	if len(teamOnly) != 2 {
		t.Fatalf("team member sees %d users, want 2", len(teamOnly))
	}
}

func TestUpdateTaskFieldMutability(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, env.Lead, "Ship importer", env.Ann)

	// Admin and lead may retitle.
	got, err := env.Engine.UpdateTask(env.Ctx, principal(env.Lead), task.ID, engine.TaskUpdateOptions{
		Title: str("Ship importer v2"),
	})
	if err != nil || got.Title != "Ship importer v2" {
		t.Fatalf("lead retitle: %v (title %q)", err, got.Title)
	}

	// A team member's title change is dropped silently; the rest of the
	// update still applies.
	got, err = env.Engine.UpdateTask(env.Ctx, principal(env.Ann), task.ID, engine.TaskUpdateOptions{
		Title:  str("Ann's title"),
		Status: str(string(domain.StatusOnProgress)),
	})
	if err != nil {
		t.Fatalf("team update: %v", err)
	}
	if got.Title != "Ship importer v2" {
		t.Fatalf("team title change applied: %q", got.Title)
	}
	if got.Status != domain.StatusOnProgress {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusOnProgress)
	}

	// Not their task: forbidden, not a silent no-op.
	_, err = env.Engine.UpdateTask(env.Ctx, principal(env.Bob), task.ID, engine.TaskUpdateOptions{
		Status: str(string(domain.StatusDone)),
	})
	var forbidden authz.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("update of someone else's task: got %v, want forbidden", err)
	}
}

func TestUpdateTaskStatusValues(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, env.Admin, "Flat machine", env.Ann)

	// Every enumerated status is reachable from every other, including
	// leaving Done.
	for _, s := range []domain.Status{domain.StatusOnProgress, domain.StatusDone, domain.StatusReject, domain.StatusNotStarted} {
		got, err := env.Engine.UpdateTask(env.Ctx, principal(env.Admin), task.ID, engine.TaskUpdateOptions{
			Status: str(string(s)),
		})
		if err != nil || got.Status != s {
			t.Fatalf("to %q: %v (got %q)", s, err, got.Status)
		}
	}

	_, err := env.Engine.UpdateTask(env.Ctx, principal(env.Admin), task.ID, engine.TaskUpdateOptions{
		Status: str("Paused"),
	})
	var vErr engine.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "status" {
		t.Fatalf("unknown status: got %v, want status validation error", err)
	}
}

func TestUpdateTaskAlwaysTouchesAndLogs(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, env.Lead, "Touch me", env.Ann)

	logs, err := env.Engine.Repo.ListTaskLogs(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "create" {
		t.Fatalf("after create: %d logs (%+v), want single create entry", len(logs), logs)
	}

	*env.Clock = env.Clock.Add(5 * time.Minute)

	// An update with no effective field changes still refreshes
	// updated_at and appends exactly one entry.
	got, err := env.Engine.UpdateTask(env.Ctx, principal(env.Ann), task.ID, engine.TaskUpdateOptions{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if got.UpdatedAt == task.UpdatedAt {
		t.Fatalf("updated_at not refreshed: %s", got.UpdatedAt)
	}
	logs, err = env.Engine.Repo.ListTaskLogs(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 || logs[1].Action != "update" || logs[1].ChangedBy != env.Ann.ID {
		t.Fatalf("after update: %+v, want create then update by Ann", logs)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateTask(env.Ctx, principal(env.Admin), 404, engine.TaskUpdateOptions{})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing task: got %v, want not found", err)
	}
}

func TestListTasksScoping(t *testing.T) {
	env := newTestEnv(t)
	annTask := env.mustCreateTask(t, env.Lead, "Ann's work", env.Ann)
	env.mustCreateTask(t, env.Lead, "Bob's work", env.Bob)

	all, err := env.Engine.ListTasks(env.Ctx, principal(env.Admin))
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d tasks, want 2", len(all))
	}

	mine, err := env.Engine.ListTasks(env.Ctx, principal(env.Ann))
	if err != nil {
		t.Fatalf("team list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != annTask.ID {
		t.Fatalf("Ann sees %+v, want only her task", mine)
	}
}

func TestUpdateTaskAtomicWithLog(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, env.Lead, "Atomic", env.Ann)

	// Break the log table so the append inside the update transaction
	// fails; the task mutation must roll back with it.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE task_logs RENAME TO task_logs_broken`); err != nil {
		t.Fatalf("break log table: %v", err)
	}
	_, err := env.Engine.UpdateTask(env.Ctx, principal(env.Ann), task.ID, engine.TaskUpdateOptions{
		Status: str(string(domain.StatusDone)),
	})
	if err == nil {
		t.Fatalf("update succeeded without a log table")
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `ALTER TABLE task_logs_broken RENAME TO task_logs`); err != nil {
		t.Fatalf("restore log table: %v", err)
	}

	got, err := env.Engine.GetTask(env.Ctx, principal(env.Lead), task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Status != domain.StatusNotStarted || got.UpdatedAt != task.UpdatedAt {
		t.Fatalf("task mutated despite failed log append: %+v", got)
	}
	logs, err := env.Engine.Repo.ListTaskLogs(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("log count = %d, want the create entry only", len(logs))
	}
}

func TestUpdateSnapshotReadsInsideTransaction(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, env.Lead, "Quarterly report", env.Ann)

	// The snapshot a partial update coalesces from must come from the
	// update's own transaction, not the pool: a pool read would leave a
	// window where a concurrent commit gets overwritten with its own
	// pre-image.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	draft := task
	draft.Title = "Quarterly report v2"
	if err := env.Engine.Repo.UpdateTask(env.Ctx, tx, draft); err != nil {
		t.Fatalf("update in tx: %v", err)
	}
	got, err := env.Engine.Repo.GetTaskTx(env.Ctx, tx, task.ID)
	if err != nil {
		t.Fatalf("read in tx: %v", err)
	}
	if got.Title != "Quarterly report v2" {
		t.Fatalf("tx read missed the tx's own write: %q", got.Title)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	reloaded, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Title != "Quarterly report" {
		t.Fatalf("rolled-back write leaked: %q", reloaded.Title)
	}
}

func TestPartialUpdatesCompose(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, env.Lead, "Quarterly report", env.Ann)

	if _, err := env.Engine.UpdateTask(env.Ctx, principal(env.Admin), task.ID, engine.TaskUpdateOptions{
		Title: str("Quarterly report v2"),
	}); err != nil {
		t.Fatalf("title update: %v", err)
	}
	got, err := env.Engine.UpdateTask(env.Ctx, principal(env.Ann), task.ID, engine.TaskUpdateOptions{
		Status: str(string(domain.StatusOnProgress)),
	})
	if err != nil {
		t.Fatalf("status update: %v", err)
	}
	// Each update touches only its own field; neither reverts the other.
	if got.Title != "Quarterly report v2" {
		t.Fatalf("status update reverted the title: %q", got.Title)
	}
	if got.Status != domain.StatusOnProgress {
		t.Fatalf("status = %q, want On Progress", got.Status)
	}
	logs, err := env.Engine.Repo.ListTaskLogs(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("log count = %d, want create plus two updates", len(logs))
	}
}

func TestCreateUserTrimsEmail(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, principal(env.Admin), engine.UserCreateOptions{
		Name: "Pad", Email: "  pad@example.com  ", Password: "pw-Pad", Role: domain.RoleTeam,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "pad@example.com" {
		t.Fatalf("stored email = %q, want trimmed", u.Email)
	}
	if _, err := env.Engine.Login(env.Ctx, "pad@example.com", "pw-Pad"); err != nil {
		t.Fatalf("login after padded create: %v", err)
	}
}

func TestSeedAdminOnlyIntoEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	_, created, err := env.Engine.SeedAdmin(env.Ctx, "Second Admin", "admin2@example.com", "pw")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if created {
		t.Fatalf("seed created an admin into a populated store")
	}
}
