package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
	"taskdesk/internal/server"
	"taskdesk/internal/token"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Taskdesk CLI",
	Long: `Taskdesk is a small multi-tenant task tracker.
- Workspace: the .taskdesk directory holding the database; config lives in taskdesk.yml next to it.
- Users: admin, lead, and team roles. Admin and lead run the board; team members work their own tasks.
- Tasks: items with a flat status set (Not Started, On Progress, Done, Reject); any status may follow any other.
- Task log: an append-only audit trail, one entry per create or update, committed with the change itself.
- Local commands act as a user picked with --as <email>; the HTTP API uses bearer tokens from 'td login'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user email for local commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func seedCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the bootstrap admin in an empty workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return fmt.Errorf("--password required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, created, err := e.SeedAdmin(ctx, e.Config.Seed.AdminName, e.Config.Seed.AdminEmail, password)
				if err != nil {
					return err
				}
				if !created {
					fmt.Println("workspace already has users; nothing to do")
					return nil
				}
				fmt.Printf("created admin %s <%s> (id %d)\n", u.Name, u.Email, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tok, err := e.Login(ctx, email, password)
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "user password")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var name, email, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p token.Principal) error {
				u, err := e.CreateUser(ctx, p, engine.UserCreateOptions{
					Name:     name,
					Email:    email,
					Password: password,
					Role:     domain.Role(role),
				})
				if err != nil {
					return err
				}
				fmt.Printf("created %s user %s <%s> (id %d)\n", u.Role, u.Name, u.Email, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "user name")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&password, "password", "", "user password")
	cmd.Flags().StringVar(&role, "role", "team", "user role (admin, lead, team)")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p token.Principal) error {
				users, err := e.ListUsers(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var title, description string
	var assignTo int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p token.Principal) error {
				t, err := e.CreateTask(ctx, p, engine.TaskCreateOptions{
					Title:       title,
					Description: description,
					AssignedTo:  assignTo,
				})
				if err != nil {
					return err
				}
				fmt.Printf("created task %d: %s [%s]\n", t.ID, t.Title, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().Int64Var(&assignTo, "assign", 0, "assignee user id")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			opts := engine.TaskUpdateOptions{}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p token.Principal) error {
				t, err := e.UpdateTask(ctx, p, id, opts)
				if err != nil {
					return err
				}
				fmt.Printf("updated task %d: %s [%s]\n", t.ID, t.Title, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", `new status ("Not Started", "On Progress", "Done", "Reject")`)
	return cmd
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p token.Principal) error {
				tasks, err := e.ListTasks(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.AssignedTo, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p token.Principal) error {
				t, err := e.GetTask(ctx, p, id)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <task-id>",
		Short: "Show the audit trail of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				logs, err := r.ListTaskLogs(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Action", "Description", "By"})
				for _, l := range logs {
					tw.AppendRow(table.Row{l.CreatedAt, l.Action, l.Description, l.ChangedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("TASKDESK_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("TASKDESK_JWT_SECRET is required for bearer auth")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			tokens := token.Service{Secret: secret, TTL: cfg.TokenTTL()}
			e := engine.New(conn, cfg, tokens)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{Tokens: tokens}})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskdesk API on http://%s%s (db %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, db.Path(workspace), basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	tokens := token.Service{Secret: os.Getenv("TASKDESK_JWT_SECRET"), TTL: cfg.TokenTTL()}
	e := engine.New(conn, cfg, tokens)
	return fn(ctx, e)
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, token.Principal) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, _, err := app.ResolveActor(ctx, e.Repo, viper.GetString("as"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
