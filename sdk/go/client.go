// Package taskdesksdk is a minimal typed client for the Taskdesk HTTP API.
package taskdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Taskdesk HTTP API client. Set BearerToken after
// Login; every other call requires it.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedBy   int64  `json:"created_by"`
	AssignedTo  int64  `json:"assigned_to"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// TaskUpdate is a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a session token and stores it on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Me returns the identity behind the current token.
func (c *Client) Me(ctx context.Context) (int64, string, error) {
	var resp struct {
		ID   int64  `json:"id"`
		Role string `json:"role"`
	}
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp.ID, resp.Role, err
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, name, email, password, role string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, "v0/users", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
		"role":     role,
	}, &resp)
	return resp, err
}

// ListUsers lists users visible to the caller.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "v0/users", nil, &resp)
	return resp, err
}

// CreateTask creates a task assigned to a user.
func (c *Client) CreateTask(ctx context.Context, title, description string, assignedTo int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", map[string]any{
		"title":       title,
		"description": description,
		"assigned_to": assignedTo,
	}, &resp)
	return resp, err
}

// UpdateTask applies a partial update to a task.
func (c *Client) UpdateTask(ctx context.Context, id int64, update TaskUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/tasks/%d", id), update, &resp)
	return resp, err
}

// GetTask fetches a task.
func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%d", id), nil, &resp)
	return resp, err
}

// ListTasks lists tasks visible to the caller.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v0/tasks", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
