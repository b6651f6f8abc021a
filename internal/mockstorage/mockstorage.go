// Package mockstorage provides a testify-based mock implementation
// of the storage interfaces used by the auth, service and router packages.
// It is used for unit testing failure paths that real stores cannot easily produce.
package mockstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

// StorageMock is a testify mock that implements every storage method.
type StorageMock struct {
	mock.Mock

	// OnGetNumberOfUsers is an optional function field that can be assigned
	// to define custom mock behavior for GetNumberOfUsers in tests.
	//
	// If set, GetNumberOfUsers will delegate to this function instead of
	// returning zero values.
	OnGetNumberOfUsers func(ctx context.Context) (int64, error)

	// OnGetNumberOfTasks works like OnGetNumberOfUsers for GetNumberOfTasks.
	OnGetNumberOfTasks func(ctx context.Context) (int64, error)
}

// Ping mocks a storage health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// CreateUser mocks user creation.
func (m *StorageMock) CreateUser(ctx context.Context, usr *models.User) error {
	args := m.Called(ctx, usr)
	return args.Error(0)
}

// GetUserByEmail mocks a credential lookup.
func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*models.User)
	return usr, args.Bool(1), args.Error(2)
}

// InsertTask mocks task creation.
func (m *StorageMock) InsertTask(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// GetUserTasks mocks listing an owner's tasks.
func (m *StorageMock) GetUserTasks(ctx context.Context, ownerID string) ([]models.Task, error) {
	args := m.Called(ctx, ownerID)
	tasks, _ := args.Get(0).([]models.Task)
	return tasks, args.Error(1)
}

// FindUserTask mocks an owner-scoped task lookup.
func (m *StorageMock) FindUserTask(ctx context.Context, ownerID, taskID string) (*models.Task, bool, error) {
	args := m.Called(ctx, ownerID, taskID)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Bool(1), args.Error(2)
}

// UpdateUserTask mocks an owner-scoped partial update.
func (m *StorageMock) UpdateUserTask(
	ctx context.Context,
	ownerID,
	taskID string,
	update models.TaskUpdate,
	updatedAt time.Time,
) (*models.Task, bool, error) {
	args := m.Called(ctx, ownerID, taskID, update, updatedAt)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Bool(1), args.Error(2)
}

// DeleteUserTask mocks an owner-scoped delete.
func (m *StorageMock) DeleteUserTask(ctx context.Context, ownerID, taskID string) (bool, error) {
	args := m.Called(ctx, ownerID, taskID)
	return args.Bool(0), args.Error(1)
}

// CountUserTasksByStatus mocks the per-status counters.
func (m *StorageMock) CountUserTasksByStatus(ctx context.Context, ownerID string) (map[models.TaskStatus]int, error) {
	args := m.Called(ctx, ownerID)
	counts, _ := args.Get(0).(map[models.TaskStatus]int)
	return counts, args.Error(1)
}

// GetNumberOfUsers returns the number of users as defined by the mock.
//
// If OnGetNumberOfUsers is non-nil, it will be called to produce the result.
// Otherwise, the method returns 0 and no error by default.
func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfUsers != nil {
		return m.OnGetNumberOfUsers(ctx)
	}
	return 0, nil
}

// GetNumberOfTasks returns the number of tasks as defined by the mock.
func (m *StorageMock) GetNumberOfTasks(ctx context.Context) (int64, error) {
	if m.OnGetNumberOfTasks != nil {
		return m.OnGetNumberOfTasks(ctx)
	}
	return 0, nil
}

// Close mocks closing the storage and releasing resources.
func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
