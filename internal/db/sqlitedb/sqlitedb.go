// Package sqlitedb stores users and tasks in a single SQLite file through the
// pure-Go modernc.org/sqlite driver. Schema migrations are embedded and applied
// with goose on open.
package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const taskColumns = `id, title, description, status, owner_id, created_at, updated_at`

// SQLiteDB is a SQLite-backed implementation of the task tracker storage.
type SQLiteDB struct {
	database *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

// New opens (creating if needed) the SQLite file at path and applies migrations.
func New(ctx context.Context, path string) (*SQLiteDB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("in internal/db/sqlitedb/sqlitedb.go/New(): storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/New(): error while `sql.Open()` calling: %w",
			err,
		)
	}

	// One writer at a time keeps SQLITE_BUSY away from concurrent requests.
	database.SetMaxOpenConns(1)

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/New(): error while `database.PingContext()` calling: %w",
			err,
		)
	}

	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/New(): error while `goose.SetDialect()` calling: %w",
			err,
		)
	}

	if err := goose.UpContext(ctx, database, "migrations"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/New(): error while `goose.UpContext()` calling: %w",
			err,
		)
	}

	return &SQLiteDB{database: database}, nil
}

// CreateUser inserts a new user record. A duplicate email yields models.ErrConflict.
func (db *SQLiteDB) CreateUser(ctx context.Context, usr *models.User) error {
	_, err := db.database.ExecContext(
		ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?1, ?2, ?3, ?4, ?5)`,
		usr.ID,
		usr.Name,
		usr.Email,
		usr.PasswordHash,
		toMillis(usr.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user with email %q: %w", usr.Email, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/CreateUser(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}

	return nil
}

func (db *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?1`,
		email,
	)

	usr := &models.User{}
	var createdAt int64
	err := row.Scan(&usr.ID, &usr.Name, &usr.Email, &usr.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	usr.CreatedAt = fromMillis(createdAt)

	return usr, true, nil
}

func (db *SQLiteDB) InsertTask(ctx context.Context, task *models.Task) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO tasks (id, title, description, status, owner_id, created_at, updated_at)
				VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)
		`,
		task.ID,
		task.Title,
		task.Description,
		string(task.Status),
		task.OwnerID,
		toMillis(task.CreatedAt),
		toMillis(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/InsertTask(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}

	return nil
}

func (db *SQLiteDB) GetUserTasks(ctx context.Context, ownerID string) ([]models.Task, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ?1 ORDER BY created_at, rowid`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (db *SQLiteDB) FindUserTask(ctx context.Context, ownerID, taskID string) (*models.Task, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?1 AND owner_id = ?2`,
		taskID,
		ownerID,
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return task, true, nil
}

// UpdateUserTask applies the non-nil fields of update in a single statement.
func (db *SQLiteDB) UpdateUserTask(
	ctx context.Context,
	ownerID,
	taskID string,
	update models.TaskUpdate,
	updatedAt time.Time,
) (*models.Task, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			UPDATE tasks
				SET
					title = COALESCE(?3, title),
					description = COALESCE(?4, description),
					status = COALESCE(?5, status),
					updated_at = ?6
				WHERE id = ?1 AND owner_id = ?2
				RETURNING `+taskColumns,
		taskID,
		ownerID,
		nullableString(update.Title),
		nullableString(update.Description),
		nullableString((*string)(update.Status)),
		toMillis(updatedAt),
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf(
			"in internal/db/sqlitedb/sqlitedb.go/UpdateUserTask(): error while `scanTask()` calling: %w",
			err,
		)
	}

	return task, true, nil
}

func (db *SQLiteDB) DeleteUserTask(ctx context.Context, ownerID, taskID string) (bool, error) {
	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM tasks WHERE id = ?1 AND owner_id = ?2`,
		taskID,
		ownerID,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (db *SQLiteDB) CountUserTasksByStatus(ctx context.Context, ownerID string) (map[models.TaskStatus]int, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE owner_id = ?1 GROUP BY status`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[models.TaskStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[models.TaskStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (db *SQLiteDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	var count int64
	err := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)

	return count, err
}

func (db *SQLiteDB) GetNumberOfTasks(ctx context.Context) (int64, error) {
	var count int64
	err := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count)

	return count, err
}

func (db *SQLiteDB) Ping(ctx context.Context) error {
	return db.database.PingContext(ctx)
}

func (db *SQLiteDB) Close() error {
	return db.database.Close()
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&status,
		&task.OwnerID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	task.CreatedAt = fromMillis(createdAt)
	task.UpdatedAt = fromMillis(updatedAt)

	return task, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	code := sqliteErr.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}

	// Primary result code only, when extended codes are off.
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
