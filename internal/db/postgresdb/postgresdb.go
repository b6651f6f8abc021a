// Package postgresdb provides a PostgreSQL-based implementation of the storage interfaces
// for persisting users and their tasks.
// Every task query is filtered by the owner's ID, so cross-user access is impossible
// through this layer.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

const uniqueViolationCode = "23505"

const taskColumns = `id, title, description, status, owner_id, created_at, updated_at`

// PostgresDB is a PostgreSQL-backed implementation of the task tracker storage.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type rowScanner interface {
	Scan(dest ...any) error
}

type initOptions struct {
	DBPreReset bool
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset enables or disables dropping every table before migration.
// It is meant for test setups.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// New establishes a connection to the PostgreSQL database,
// runs the goose migrations from migrationsDir, and returns a configured PostgresDB.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if err := result.Ping(ctx); err != nil {
		_ = database.Close()
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `result.Ping()` calling: %w",
				err,
			)
	}

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			_ = database.Close()
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		_ = database.Close()
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.UpContext(ctx, result.database, migrationsDir); err != nil {
		_ = database.Close()
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.UpContext()` calling: %w",
				err,
			)
	}

	return result, nil
}

// CreateUser inserts a new user record. A duplicate email yields models.ErrConflict.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *models.User) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO users (id, name, email, password_hash, created_at)
				VALUES ($1, $2, $3, $4, $5)
		`,
		usr.ID,
		usr.Name,
		usr.Email,
		usr.PasswordHash,
		usr.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user with email %q: %w", usr.Email, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/CreateUser(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}

	return nil
}

// GetUserByEmail looks a user up by the exact email.
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)

	usr := &models.User{}
	err := row.Scan(&usr.ID, &usr.Name, &usr.Email, &usr.PasswordHash, &usr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return usr, true, nil
}

// InsertTask stores a new task for task.OwnerID.
func (db *PostgresDB) InsertTask(ctx context.Context, task *models.Task) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO tasks (id, title, description, status, owner_id, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
		task.ID,
		task.Title,
		task.Description,
		string(task.Status),
		task.OwnerID,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/InsertTask(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}

	return nil
}

// GetUserTasks returns every task of the owner in creation order.
func (db *PostgresDB) GetUserTasks(ctx context.Context, ownerID string) ([]models.Task, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 ORDER BY created_at, id`,
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

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// FindUserTask fetches one task, scoped by owner.
func (db *PostgresDB) FindUserTask(ctx context.Context, ownerID, taskID string) (*models.Task, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`,
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

// UpdateUserTask applies the non-nil fields of update in a single statement
// and returns the resulting row.
func (db *PostgresDB) UpdateUserTask(
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
					title = COALESCE($3, title),
					description = COALESCE($4, description),
					status = COALESCE($5, status),
					updated_at = $6
				WHERE id = $1 AND owner_id = $2
				RETURNING `+taskColumns,
		taskID,
		ownerID,
		nullableString(update.Title),
		nullableString(update.Description),
		nullableStatus(update.Status),
		updatedAt,
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/UpdateUserTask(): error while `scanTask()` calling: %w",
			err,
		)
	}

	return task, true, nil
}

// DeleteUserTask removes one task, scoped by owner. It reports whether a row was deleted.
func (db *PostgresDB) DeleteUserTask(ctx context.Context, ownerID, taskID string) (bool, error) {
	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`,
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

// CountUserTasksByStatus returns the owner's task counts keyed by status.
func (db *PostgresDB) CountUserTasksByStatus(ctx context.Context, ownerID string) (map[models.TaskStatus]int, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE owner_id = $1 GROUP BY status`,
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

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetNumberOfUsers returns the count of registered users.
func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	var count int64
	err := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)

	return count, err
}

// GetNumberOfTasks returns the count of all tasks.
func (db *PostgresDB) GetNumberOfTasks(ctx context.Context) (int64, error) {
	var count int64
	err := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count)

	return count, err
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var status string
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&status,
		&task.OwnerID,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)

	return task, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullableStatus(value *models.TaskStatus) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*value), Valid: true}
}
