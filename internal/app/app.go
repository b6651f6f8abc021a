// Package app initializes and runs the task tracker service.
// It configures logging, storage, authentication, event publishing and
// routing, and handles graceful shutdown.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/config"
	"github.com/patric-chuzhbe/tasktracker/internal/db/memorystorage"
	"github.com/patric-chuzhbe/tasktracker/internal/db/postgresdb"
	"github.com/patric-chuzhbe/tasktracker/internal/db/sqlitedb"
	"github.com/patric-chuzhbe/tasktracker/internal/ipchecker"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/metrics"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/router"
	"github.com/patric-chuzhbe/tasktracker/internal/service"
	"github.com/patric-chuzhbe/tasktracker/internal/session"
	"github.com/patric-chuzhbe/tasktracker/internal/tasksnotifier"
)

type userKeeper interface {
	CreateUser(ctx context.Context, usr *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, bool, error)
}

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
	userKeeper
	tasksKeeper
	statsKeeper
	pinger
	Close() error
}

type eventsPublisher interface {
	Publish(ctx context.Context, events []*models.TaskEvent) error
}

const signingKeyLength = 32

// App holds the configuration, HTTP handler, storage backend and the
// background task events notifier.
type App struct {
	cfg             *config.Config
	db              storage
	publisher       eventsPublisher
	notifier        *tasksnotifier.TasksNotifier
	stopNotifier    context.CancelFunc
	httpHandler     http.Handler
	shutdownTimeout time.Duration
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger
// - selecting and setting up storage
// - setting up the task events notifier
// - setting up the router and middleware
func New() (*App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	return NewWithConfig(cfg)
}

// NewWithConfig is New with an already built configuration.
func NewWithConfig(cfg *config.Config) (*App, error) {
	var err error
	app := &App{
		cfg:             cfg,
		shutdownTimeout: 10 * time.Second,
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	signingKey, err := getSigningKey(app.cfg)
	if err != nil {
		return nil, err
	}

	checker, err := ipchecker.New(app.cfg.TrustedSubnet)
	if err != nil {
		return nil, err
	}

	app.db, err = getStorageByType(app.cfg)
	if err != nil {
		return nil, err
	}

	app.publisher, err = getEventsPublisher(app.cfg)
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	theMetrics := metrics.New()

	app.notifier = tasksnotifier.New(
		app.publisher,
		app.cfg.EventsChannelCapacity,
		app.cfg.DelayBetweenEventsFlushes,
		tasksnotifier.WithOnPublished(theMetrics.ObservePublishedEvents),
		tasksnotifier.WithOnDropped(theMetrics.ObserveDroppedEvent),
	)
	notifierRunCtx, stopNotifier := context.WithCancel(context.Background())
	app.stopNotifier = stopNotifier

	app.notifier.ListenErrors(func(err error) {
		logger.Log.Debugln("Error passed from the `app.notifier.ListenErrors()`:", zap.Error(err))
	})
	app.notifier.Run(notifierRunCtx)

	theAuth, err := auth.New(
		app.db,
		session.New(signingKey, app.cfg.TokenTTL),
		app.cfg.BcryptCost,
	)
	if err != nil {
		stopNotifier()
		_ = app.db.Close()
		return nil, err
	}

	app.httpHandler = router.New(
		service.New(app.db, app.notifier),
		theAuth,
		router.WithMetrics(theMetrics),
		router.WithInternalGuard(checker.TrustedSubnetOnly),
		router.WithCORSAllowedOrigins(app.cfg.CORSAllowedOrigins),
	)

	return app, nil
}

// Handler exposes the fully wired HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpHandler
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr)

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Flushing task events and exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return a.Shutdown(shutdownCtx)

	case err := <-serverErrCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		return errors.Join(fmt.Errorf("server error: %w", err), a.Shutdown(shutdownCtx))
	}
}

// Shutdown stops the notifier after its final flush, then releases the
// publisher and the storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopNotifier()

	select {
	case <-a.notifier.Done():
	case <-ctx.Done():
		logger.Log.Warnln("task events notifier did not stop in time")
	}

	var errs []error
	if closer, ok := a.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("in internal/app/app.go/Shutdown(): error while `closer.Close()` calling: %w", err))
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("in internal/app/app.go/Shutdown(): error while `a.db.Close()` calling: %w", err))
	}

	return errors.Join(errs...)
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getSigningKey(cfg *config.Config) ([]byte, error) {
	if cfg.AuthSigningKey != "" {
		return config.DecodeSigningKey(cfg.AuthSigningKey)
	}

	key := make([]byte, signingKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/getSigningKey(): error while `rand.Read()` calling: %w", err)
	}
	logger.Log.Warnln("AUTH_SIGNING_KEY is not set, using a random key: tokens will not survive a restart")

	return key, nil
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.SQLitePath != "" {
		return models.StorageTypeSQLite
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeSQLite:
		return sqlitedb.New(context.Background(), cfg.SQLitePath)
	}

	return memorystorage.New()
}

func getEventsPublisher(cfg *config.Config) (eventsPublisher, error) {
	if cfg.NATSURL == "" {
		return tasksnotifier.LogPublisher{}, nil
	}

	return tasksnotifier.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
}
