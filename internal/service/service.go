// Package service implements the owner-scoped task operations.
// Every method takes the authenticated owner's ID and passes it down to the
// storage, which filters by it; a task owned by someone else is reported
// exactly like a missing one.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

type tasksKeeper interface {
	InsertTask(ctx context.Context, task *models.Task) error

	GetUserTasks(ctx context.Context, ownerID string) ([]models.Task, error)

	FindUserTask(ctx context.Context, ownerID, taskID string) (*models.Task, bool, error)

	UpdateUserTask(
		ctx context.Context,
		ownerID,
		taskID string,
		update models.TaskUpdate,
		updatedAt time.Time,
	) (*models.Task, bool, error)

	DeleteUserTask(ctx context.Context, ownerID, taskID string) (bool, error)

	CountUserTasksByStatus(ctx context.Context, ownerID string) (map[models.TaskStatus]int, error)
}

type statsKeeper interface {
	GetNumberOfUsers(ctx context.Context) (int64, error)

	GetNumberOfTasks(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	tasksKeeper
	statsKeeper
	pinger
}

type eventsNotifier interface {
	EnqueueEvent(event *models.TaskEvent)
}

var (
	ErrValidation = models.ErrValidation
	ErrNotFound   = models.ErrNotFound
)

type Service struct {
	db       storage
	notifier eventsNotifier
	now      func() time.Time
}

func New(db storage, notifier eventsNotifier) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask creates a pending task owned by ownerID.
func (s *Service) CreateTask(ctx context.Context, ownerID, title, description string) (*models.Task, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	now := s.now()
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      models.TaskStatusPending,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.InsertTask(ctx, task); err != nil {
		return nil, err
	}

	s.notify(models.TaskEventCreated, ownerID, task.ID, task)

	return task, nil
}

// ListTasks returns all of the owner's tasks in storage order.
func (s *Service) ListTasks(ctx context.Context, ownerID string) ([]models.Task, error) {
	tasks, err := s.db.GetUserTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.Task{}
	}

	return tasks, nil
}

// GetTask returns one of the owner's tasks or ErrNotFound.
func (s *Service) GetTask(ctx context.Context, ownerID, taskID string) (*models.Task, error) {
	if !isTaskID(taskID) {
		return nil, ErrNotFound
	}

	task, found, err := s.db.FindUserTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	return task, nil
}

// UpdateTask applies the provided fields of update. An empty update changes
// nothing and returns the current task.
func (s *Service) UpdateTask(
	ctx context.Context,
	ownerID,
	taskID string,
	update models.TaskUpdate,
) (*models.Task, error) {
	if update.Title != nil {
		if err := validateTitle(*update.Title); err != nil {
			return nil, err
		}
	}
	if update.Status != nil && !update.Status.IsValid() {
		return nil, fmt.Errorf("unknown status %q: %w", *update.Status, ErrValidation)
	}

	if update.IsEmpty() {
		return s.GetTask(ctx, ownerID, taskID)
	}

	if !isTaskID(taskID) {
		return nil, ErrNotFound
	}

	task, found, err := s.db.UpdateUserTask(ctx, ownerID, taskID, update, s.now())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	s.notify(models.TaskEventUpdated, ownerID, task.ID, task)

	return task, nil
}

// DeleteTask removes one of the owner's tasks or returns ErrNotFound.
func (s *Service) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	if !isTaskID(taskID) {
		return ErrNotFound
	}

	deleted, err := s.db.DeleteUserTask(ctx, ownerID, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	s.notify(models.TaskEventDeleted, ownerID, taskID, nil)

	return nil
}

// GetTaskSummary counts the owner's tasks per status.
func (s *Service) GetTaskSummary(ctx context.Context, ownerID string) (models.TaskSummary, error) {
	counts, err := s.db.CountUserTasksByStatus(ctx, ownerID)
	if err != nil {
		return models.TaskSummary{}, err
	}

	summary := models.TaskSummary{
		Pending:    counts[models.TaskStatusPending],
		InProgress: counts[models.TaskStatusInProgress],
		Completed:  counts[models.TaskStatusCompleted],
	}
	summary.Total = funk.SumInt([]int{summary.Pending, summary.InProgress, summary.Completed})

	return summary, nil
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetInternalStats returns the total number of users and tasks.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	tasks, err := s.db.GetNumberOfTasks(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		Users: users,
		Tasks: tasks,
	}, nil
}

func (s *Service) notify(eventType models.TaskEventType, ownerID, taskID string, task *models.Task) {
	if s.notifier == nil {
		return
	}

	s.notifier.EnqueueEvent(&models.TaskEvent{
		Type:       eventType,
		OwnerID:    ownerID,
		TaskID:     taskID,
		Task:       task,
		OccurredAt: s.now(),
	})
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title must not be empty: %w", ErrValidation)
	}

	return nil
}

// Task IDs are UUIDs; anything else cannot exist and must not reach a
// UUID-typed column.
func isTaskID(taskID string) bool {
	_, err := uuid.Parse(taskID)
	return err == nil
}
