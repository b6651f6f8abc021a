package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "tasks_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func createTestUser(t *testing.T, db *SQLiteDB, email string) *models.User {
	t.Helper()

	usr := &models.User{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, db.CreateUser(context.Background(), usr))

	return usr
}

func createTestTask(t *testing.T, db *SQLiteDB, ownerID, title string, createdAt time.Time) *models.Task {
	t.Helper()

	task := &models.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    models.TaskStatusPending,
		OwnerID:   ownerID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, db.InsertTask(context.Background(), task))

	return task
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), "  ")
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := New(context.Background(), path)
	require.NoError(t, err)
	usr := createTestUser(t, db, "a@x.com")
	require.NoError(t, db.Close())

	db, err = New(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	found, ok, err := db.GetUserByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, usr.ID, found.ID)
}

func TestCreateUserConflict(t *testing.T) {
	db := setupTestDB(t)

	createTestUser(t, db, "a@x.com")

	err := db.CreateUser(context.Background(), &models.User{
		ID:           uuid.NewString(),
		Name:         "Someone else",
		Email:        "a@x.com",
		PasswordHash: "another hash",
		CreatedAt:    time.Now(),
	})
	assert.ErrorIs(t, err, models.ErrConflict)

	users, err := db.GetNumberOfUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
}

func TestInsertTaskUnknownOwner(t *testing.T) {
	db := setupTestDB(t)

	err := db.InsertTask(context.Background(), &models.Task{
		ID:        uuid.NewString(),
		Title:     "orphan",
		Status:    models.TaskStatusPending,
		OwnerID:   uuid.NewString(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrConflict)
}

func TestTasksAreOwnerScoped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice@x.com")
	bob := createTestUser(t, db, "bob@x.com")

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := createTestTask(t, db, alice.ID, "first", start)
	second := createTestTask(t, db, alice.ID, "second", start.Add(time.Second))
	createTestTask(t, db, bob.ID, "bob's", start)

	tasks, err := db.GetUserTasks(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first.ID, tasks[0].ID)
	assert.Equal(t, second.ID, tasks[1].ID)
	assert.Equal(t, start, tasks[0].CreatedAt)

	_, found, err := db.FindUserTask(ctx, bob.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, found)

	title := "hijacked"
	_, found, err = db.UpdateUserTask(ctx, bob.ID, first.ID, models.TaskUpdate{Title: &title}, time.Now())
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err := db.DeleteUserTask(ctx, bob.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	task, found, err := db.FindUserTask(ctx, alice.ID, first.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", task.Title)
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice@x.com")
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	task := createTestTask(t, db, alice.ID, "Buy milk", start)

	status := models.TaskStatusCompleted
	updated, found, err := db.UpdateUserTask(
		ctx,
		alice.ID,
		task.ID,
		models.TaskUpdate{Status: &status},
		start.Add(time.Hour),
	)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Buy milk", updated.Title)
	assert.Equal(t, "", updated.Description)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
	assert.Equal(t, start, updated.CreatedAt)
	assert.Equal(t, start.Add(time.Hour), updated.UpdatedAt)

	description := "2 litres"
	updated, found, err = db.UpdateUserTask(
		ctx,
		alice.ID,
		task.ID,
		models.TaskUpdate{Description: &description},
		start.Add(2*time.Hour),
	)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2 litres", updated.Description)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
}

func TestDeleteAndCounters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice@x.com")
	start := time.Now()
	first := createTestTask(t, db, alice.ID, "one", start)
	second := createTestTask(t, db, alice.ID, "two", start)

	status := models.TaskStatusInProgress
	_, _, err := db.UpdateUserTask(ctx, alice.ID, second.ID, models.TaskUpdate{Status: &status}, time.Now())
	require.NoError(t, err)

	counts, err := db.CountUserTasksByStatus(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, map[models.TaskStatus]int{
		models.TaskStatusPending:    1,
		models.TaskStatusInProgress: 1,
	}, counts)

	deleted, err := db.DeleteUserTask(ctx, alice.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.DeleteUserTask(ctx, alice.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	tasks, err := db.GetNumberOfTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tasks)

	require.NoError(t, db.Ping(ctx))
}
