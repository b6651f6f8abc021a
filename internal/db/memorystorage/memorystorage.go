// Package memorystorage keeps users and tasks in process memory.
// It is the fallback storage when neither PostgreSQL nor SQLite is configured,
// and the storage used by most handler tests.
package memorystorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

// MemoryStorage is a mutex-guarded in-memory implementation of the storage
// interfaces. Tasks keep insertion order.
type MemoryStorage struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	userIDsByMail map[string]string
	tasks         []*models.Task
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		users:         map[string]*models.User{},
		userIDsByMail: map[string]string{},
		tasks:         []*models.Task{},
	}, nil
}

// CreateUser stores usr. A duplicate email yields models.ErrConflict.
func (s *MemoryStorage) CreateUser(ctx context.Context, usr *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userIDsByMail[usr.Email]; exists {
		return fmt.Errorf("user with email %q: %w", usr.Email, models.ErrConflict)
	}
	if _, exists := s.users[usr.ID]; exists {
		return fmt.Errorf("user with id %q: %w", usr.ID, models.ErrConflict)
	}

	stored := *usr
	s.users[usr.ID] = &stored
	s.userIDsByMail[usr.Email] = usr.ID

	return nil
}

func (s *MemoryStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, found := s.userIDsByMail[email]
	if !found {
		return nil, false, nil
	}

	usr := *s.users[userID]

	return &usr, true, nil
}

// InsertTask stores a new task. The owner must exist.
func (s *MemoryStorage) InsertTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[task.OwnerID]; !exists {
		return errors.New("in internal/db/memorystorage/memorystorage.go/InsertTask(): unknown task owner")
	}

	stored := *task
	s.tasks = append(s.tasks, &stored)

	return nil
}

func (s *MemoryStorage) GetUserTasks(ctx context.Context, ownerID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := funk.Filter(s.tasks, func(task *models.Task) bool {
		return task.OwnerID == ownerID
	}).([]*models.Task)

	result := make([]models.Task, 0, len(owned))
	for _, task := range owned {
		result = append(result, *task)
	}

	return result, nil
}

func (s *MemoryStorage) FindUserTask(ctx context.Context, ownerID, taskID string) (*models.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.indexOf(ownerID, taskID)
	if index < 0 {
		return nil, false, nil
	}

	task := *s.tasks[index]

	return &task, true, nil
}

// UpdateUserTask applies the non-nil fields of update to the owner's task.
func (s *MemoryStorage) UpdateUserTask(
	ctx context.Context,
	ownerID,
	taskID string,
	update models.TaskUpdate,
	updatedAt time.Time,
) (*models.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOf(ownerID, taskID)
	if index < 0 {
		return nil, false, nil
	}

	task := s.tasks[index]
	if update.Title != nil {
		task.Title = *update.Title
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.Status != nil {
		task.Status = *update.Status
	}
	task.UpdatedAt = updatedAt

	result := *task

	return &result, true, nil
}

func (s *MemoryStorage) DeleteUserTask(ctx context.Context, ownerID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.indexOf(ownerID, taskID)
	if index < 0 {
		return false, nil
	}

	s.tasks = append(s.tasks[:index], s.tasks[index+1:]...)

	return true, nil
}

func (s *MemoryStorage) CountUserTasksByStatus(ctx context.Context, ownerID string) (map[models.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := map[models.TaskStatus]int{}
	for _, task := range s.tasks {
		if task.OwnerID == ownerID {
			result[task.Status]++
		}
	}

	return result, nil
}

func (s *MemoryStorage) GetNumberOfUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.users)), nil
}

func (s *MemoryStorage) GetNumberOfTasks(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.tasks)), nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// indexOf must be called with s.mu held.
func (s *MemoryStorage) indexOf(ownerID, taskID string) int {
	for i, task := range s.tasks {
		if task.ID == taskID && task.OwnerID == ownerID {
			return i
		}
	}

	return -1
}
