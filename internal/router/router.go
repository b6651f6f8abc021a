// Package router exposes the task tracker over HTTP: registration and login,
// owner-scoped task CRUD for authenticated users, health, internal stats and
// metrics endpoints.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/gzippedhttp"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

type tasksService interface {
	CreateTask(ctx context.Context, ownerID, title, description string) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]models.Task, error)
	GetTask(ctx context.Context, ownerID, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, ownerID, taskID string, update models.TaskUpdate) (*models.Task, error)
	DeleteTask(ctx context.Context, ownerID, taskID string) error
	GetTaskSummary(ctx context.Context, ownerID string) (models.TaskSummary, error)
	Ping(ctx context.Context) error
	GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error)
}

type authenticator interface {
	Register(ctx context.Context, name, email, rawPassword string) (*models.User, error)
	Login(ctx context.Context, email, rawPassword string) (string, error)
	AuthenticateUser(h http.Handler) http.Handler
}

type metricsCollector interface {
	Middleware(h http.Handler) http.Handler
	Handler() http.Handler
}

// Router holds the dependencies of the HTTP handlers.
type Router struct {
	tasks    tasksService
	auth     authenticator
	validate *validator.Validate
}

type InitOption func(*initOptions)

type initOptions struct {
	metrics            metricsCollector
	internalGuard      func(http.Handler) http.Handler
	corsAllowedOrigins []string
}

// WithMetrics instruments every request and mounts GET /metrics.
func WithMetrics(metrics metricsCollector) InitOption {
	return func(options *initOptions) {
		options.metrics = metrics
	}
}

// WithInternalGuard protects GET /internal/stats. Without a guard the
// endpoint always answers 403.
func WithInternalGuard(guard func(http.Handler) http.Handler) InitOption {
	return func(options *initOptions) {
		options.internalGuard = guard
	}
}

// WithCORSAllowedOrigins sets the origins allowed to call the API from a browser.
func WithCORSAllowedOrigins(origins []string) InitOption {
	return func(options *initOptions) {
		options.corsAllowedOrigins = origins
	}
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, _ *http.Request) {
		writeJSON(response, http.StatusForbidden, models.ErrorResponse{Error: "forbidden"})
	})
}

// New builds the chi router with the full middleware stack.
func New(tasks tasksService, authn authenticator, optionsProto ...InitOption) *chi.Mux {
	options := &initOptions{
		internalGuard:      denyAll,
		corsAllowedOrigins: []string{"http://localhost:5173"},
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	validate := validator.New()
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		logger.Log.Debugln("Error calling the `validate.RegisterValidation()`: ", zap.Error(err))
	}

	theRouter := &Router{
		tasks:    tasks,
		auth:     authn,
		validate: validate,
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		logger.WithLoggingHTTPMiddleware,
	)
	if options.metrics != nil {
		router.Use(options.metrics.Middleware)
	}
	router.Use(
		cors.Handler(cors.Options{
			AllowedOrigins:   options.corsAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
	)

	router.Get(`/ping`, theRouter.GetPing)

	router.Post(`/auth/register`, theRouter.PostAuthregister)
	router.Post(`/auth/login`, theRouter.PostAuthlogin)

	router.Group(func(r chi.Router) {
		r.Use(authn.AuthenticateUser)
		r.Post(`/tasks`, theRouter.PostTasks)
		r.Get(`/tasks`, theRouter.GetTasks)
		r.Get(`/tasks/summary`, theRouter.GetTaskssummary)
		r.Get(`/tasks/{id}`, theRouter.GetTasksid)
		r.Patch(`/tasks/{id}`, theRouter.PatchTasksid)
		r.Delete(`/tasks/{id}`, theRouter.DeleteTasksid)
	})

	router.With(options.internalGuard).Get(`/internal/stats`, theRouter.GetInternalstats)

	if options.metrics != nil {
		router.Method(http.MethodGet, `/metrics`, options.metrics.Handler())
	}

	return router
}

// GetPing reports whether the storage is reachable.
func (router *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := router.tasks.Ping(request.Context()); err != nil {
		logger.Log.Debugln("Error calling the `router.tasks.Ping()`: ", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.ErrorResponse{Error: "storage unavailable"})
		return
	}

	response.WriteHeader(http.StatusOK)
}

// PostAuthregister creates an account and answers 201 with its public fields.
func (router *Router) PostAuthregister(response http.ResponseWriter, request *http.Request) {
	var requestDTO models.RegisterRequest
	if !router.decodeAndValidate(response, request, &requestDTO) {
		return
	}

	usr, err := router.auth.Register(request.Context(), requestDTO.Name, requestDTO.Email, requestDTO.Password)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.RegisterResponse{
		ID:    usr.ID,
		Name:  usr.Name,
		Email: usr.Email,
	})
}

// PostAuthlogin exchanges credentials for a bearer token.
func (router *Router) PostAuthlogin(response http.ResponseWriter, request *http.Request) {
	var requestDTO models.LoginRequest
	if !router.decodeAndValidate(response, request, &requestDTO) {
		return
	}

	token, err := router.auth.Login(request.Context(), requestDTO.Email, requestDTO.Password)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, models.LoginResponse{Token: token})
}

// PostTasks creates a pending task for the authenticated user.
func (router *Router) PostTasks(response http.ResponseWriter, request *http.Request) {
	ownerID, ok := ownerFromRequest(response, request)
	if !ok {
		return
	}

	var requestDTO models.CreateTaskRequest
	if !router.decodeAndValidate(response, request, &requestDTO) {
		return
	}

	task, err := router.tasks.CreateTask(request.Context(), ownerID, requestDTO.Title, requestDTO.Description)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusCreated, task)
}

// GetTasks lists the authenticated user's tasks.
func (router *Router) GetTasks(response http.ResponseWriter, request *http.Request) {
	ownerID, ok := ownerFromRequest(response, request)
	if !ok {
		return
	}

	tasks, err := router.tasks.ListTasks(request.Context(), ownerID)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, tasks)
}

// GetTaskssummary returns per-status counters of the user's tasks.
func (router *Router) GetTaskssummary(response http.ResponseWriter, request *http.Request) {
	ownerID, ok := ownerFromRequest(response, request)
	if !ok {
		return
	}

	summary, err := router.tasks.GetTaskSummary(request.Context(), ownerID)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, summary)
}

func (router *Router) GetTasksid(response http.ResponseWriter, request *http.Request) {
	ownerID, ok := ownerFromRequest(response, request)
	if !ok {
		return
	}

	task, err := router.tasks.GetTask(request.Context(), ownerID, chi.URLParam(request, "id"))
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, task)
}

// PatchTasksid applies a partial update. Absent and null fields are left as
// they are; a request without a body is an empty update.
func (router *Router) PatchTasksid(response http.ResponseWriter, request *http.Request) {
	ownerID, ok := ownerFromRequest(response, request)
	if !ok {
		return
	}

	var requestDTO models.UpdateTaskRequest
	if !router.decodeOptionalAndValidate(response, request, &requestDTO) {
		return
	}

	task, err := router.tasks.UpdateTask(
		request.Context(),
		ownerID,
		chi.URLParam(request, "id"),
		requestDTO.ToTaskUpdate(),
	)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, task)
}

func (router *Router) DeleteTasksid(response http.ResponseWriter, request *http.Request) {
	ownerID, ok := ownerFromRequest(response, request)
	if !ok {
		return
	}

	if err := router.tasks.DeleteTask(request.Context(), ownerID, chi.URLParam(request, "id")); err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, models.DeleteTaskResponse{Deleted: true})
}

// GetInternalstats returns the total number of users and tasks.
func (router *Router) GetInternalstats(response http.ResponseWriter, request *http.Request) {
	stats, err := router.tasks.GetInternalStats(request.Context())
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, stats)
}

func (router *Router) decodeAndValidate(response http.ResponseWriter, request *http.Request, dst interface{}) bool {
	return router.decodeBody(response, request, dst, false)
}

// decodeOptionalAndValidate is decodeAndValidate for payloads whose fields are
// all optional: a request without a body leaves dst zeroed.
func (router *Router) decodeOptionalAndValidate(response http.ResponseWriter, request *http.Request, dst interface{}) bool {
	return router.decodeBody(response, request, dst, true)
}

func (router *Router) decodeBody(
	response http.ResponseWriter,
	request *http.Request,
	dst interface{},
	allowEmptyBody bool,
) bool {
	err := json.NewDecoder(request.Body).Decode(dst)
	if allowEmptyBody && errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		logger.Log.Debugln("Error decoding the request body: ", zap.Error(err))
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: "invalid JSON body"})
		return false
	}

	if err := router.validate.Struct(dst); err != nil {
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: validationMessage(err)})
		return false
	}

	return true
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "invalid request"
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		field := strings.ToLower(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "notblank":
			messages = append(messages, fmt.Sprintf("%s must not be blank", field))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters long", field, fieldErr.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}

	return strings.Join(messages, "; ")
}

func ownerFromRequest(response http.ResponseWriter, request *http.Request) (string, bool) {
	ownerID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		writeJSON(response, http.StatusUnauthorized, models.ErrorResponse{Error: "missing or invalid token"})
		return "", false
	}

	return ownerID, true
}

func writeError(response http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrAuthentication):
		writeJSON(response, http.StatusUnauthorized, models.ErrorResponse{Error: "invalid credentials"})
	case errors.Is(err, models.ErrConflict):
		writeJSON(response, http.StatusConflict, models.ErrorResponse{Error: "email already registered"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(response, http.StatusNotFound, models.ErrorResponse{Error: "task not found"})
	default:
		logger.Log.Debugln("Unexpected error while handling the request: ", zap.Error(err))
		writeJSON(response, http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(response http.ResponseWriter, status int, payload interface{}) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)

	if err := json.NewEncoder(response).Encode(payload); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`: ", zap.Error(err))
	}
}
