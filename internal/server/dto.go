package server

import (
	"taskdesk/internal/domain"
)

type LoginRequest struct {
	Email    string `json:"email" example:"admin@example.com"`
	Password string `json:"password" example:"hunter2"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type CreateUserRequest struct {
	Name     string `json:"name" example:"Ann"`
	Email    string `json:"email" example:"ann@example.com"`
	Password string `json:"password"`
	Role     string `json:"role" example:"team" enum:"admin,lead,team"`
}

type UserResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" example:"Ship the importer"`
	Description *string `json:"description,omitempty"`
	AssignedTo  int64   `json:"assigned_to"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" example:"On Progress"`
}

type TaskResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedBy   int64  `json:"created_by"`
	AssignedTo  int64  `json:"assigned_to"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type MeResponse struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedBy:   t.CreatedBy,
		AssignedTo:  t.AssignedTo,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}
