// Package models holds the request/response payloads, domain entities and
// sentinel errors shared by the storage, service and transport layers.
package models

import (
	"errors"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// TaskStatuses lists every valid status in dashboard order.
var TaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusCompleted,
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}

	return false
}

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Task is a to-do item owned by exactly one user.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	OwnerID     string     `json:"ownerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskUpdate is a partial update. Nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *TaskStatus
}

// IsEmpty reports whether the update carries no fields.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil
}

// TaskSummary counts an owner's tasks per status.
type TaskSummary struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,notblank,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type RegisterResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type CreateTaskRequest struct {
	Title       string `json:"title" validate:"required,notblank"`
	Description string `json:"description"`
}

type UpdateTaskRequest struct {
	Title       *string     `json:"title"`
	Description *string     `json:"description"`
	Status      *TaskStatus `json:"status"`
}

// ToTaskUpdate converts the wire payload into the service-level partial update.
func (r UpdateTaskRequest) ToTaskUpdate() TaskUpdate {
	return TaskUpdate{
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
	}
}

type DeleteTaskResponse struct {
	Deleted bool `json:"deleted"`
}

type InternalStatsResponse struct {
	Users int64 `json:"users"`
	Tasks int64 `json:"tasks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeSQLite
	StorageTypeMemory
)

// TaskEventType names a task lifecycle transition.
type TaskEventType string

const (
	TaskEventCreated TaskEventType = "created"
	TaskEventUpdated TaskEventType = "updated"
	TaskEventDeleted TaskEventType = "deleted"
)

// TaskEvent describes a committed change to a task.
type TaskEvent struct {
	Type       TaskEventType `json:"type"`
	OwnerID    string        `json:"ownerId"`
	TaskID     string        `json:"taskId"`
	Task       *Task         `json:"task,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrConflict       = errors.New("already exists")
	ErrNotFound       = errors.New("not found")
)
