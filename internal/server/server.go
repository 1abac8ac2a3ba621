// Package server exposes the tracker over HTTP. Authentication happens in
// middleware; authorization happens in the engine, so a handler never
// decides permissions on its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskdesk/internal/authz"
	"taskdesk/internal/engine"
	"taskdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"team may not perform task.create"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every failure response uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation reads as 400 bad_request;
			// 422 is reserved for domain validation from the engine.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerLogin(group, cfg.Engine)
	registerMe(group)
	registerUsers(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the wire taxonomy. Credential and
// token failures stay deliberately vague; validation failures carry the
// offending field.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrAuthFailure) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	}
	var fe authz.ForbiddenError
	if errors.As(err, &fe) {
		// No action or policy detail crosses the wire on a 403.
		return newAPIError(http.StatusForbidden, "forbidden", "forbidden", nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerLogin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Exchange credentials for a session token",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if input.Body.Email == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email and password are required", nil)
		}
		tok, err := e.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: tok}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Identity of the current token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ID: p.ID, Role: string(p.Role)}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := authz.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": "role"})
		}
		u, err := e.CreateUser(ctx, p, engine.UserCreateOptions{
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			Password: input.Body.Password,
			Role:     role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users visible to the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListUsers(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		t, err := e.CreateTask(ctx, p, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: desc,
			AssignedTo:  input.Body.AssignedTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks visible to the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTasks(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID int64 `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, p, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID int64             `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, p, input.TaskID, engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		joinPath(basePath, "health"): true,
		joinPath(basePath, "login"):  true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func joinPath(basePath, p string) string {
	joined := path.Join(basePath, p)
	if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskdesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
