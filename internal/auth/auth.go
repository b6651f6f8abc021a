// Package auth registers users, logs them in, and guards HTTP handlers with
// bearer-token authentication. Token signing and verification are delegated
// to the session package; password hashing to bcrypt.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/session"
)

type userKeeper interface {
	CreateUser(ctx context.Context, usr *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, bool, error)
}

type sessionManager interface {
	Issue(identity session.Identity) (string, error)
	Verify(tokenString string) (*session.Identity, error)
}

var (
	ErrConflict       = models.ErrConflict
	ErrAuthentication = models.ErrAuthentication
)

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// UserIDKey is the context key used to store and retrieve the authenticated user's ID.
const UserIDKey ContextKey = "userID"

const bearerPrefix = "Bearer "

// Auth handles registration, login and request authentication.
type Auth struct {
	// db is the credential store.
	db userKeeper

	// sessions signs and verifies bearer tokens.
	sessions sessionManager

	// bcryptCost is the work factor used for new password hashes.
	bcryptCost int

	// dummyHash is compared against when the email is unknown, so both
	// login failures cost one bcrypt comparison.
	dummyHash []byte
}

// New creates an Auth service.
func New(db userKeeper, sessions sessionManager, bcryptCost int) (*Auth, error) {
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/auth/auth.go/New(): error while `bcrypt.GenerateFromPassword()` calling: %w",
			err,
		)
	}

	return &Auth{
		db:         db,
		sessions:   sessions,
		bcryptCost: bcryptCost,
		dummyHash:  dummyHash,
	}, nil
}

// Register creates a user with a freshly hashed password.
// The name is stored trimmed and must not be blank.
// It fails with ErrConflict when the email is taken.
func (a *Auth) Register(ctx context.Context, name, email, rawPassword string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name must not be blank: %w", models.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), a.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("password longer than 72 bytes: %w", models.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/auth/auth.go/Register(): error while `bcrypt.GenerateFromPassword()` calling: %w",
			err,
		)
	}

	usr := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := a.db.CreateUser(ctx, usr); err != nil {
		return nil, err
	}

	return usr, nil
}

// Login checks the credentials and returns a signed session token.
// Unknown email and wrong password fail identically with ErrAuthentication.
func (a *Auth) Login(ctx context.Context, email, rawPassword string) (string, error) {
	usr, found, err := a.db.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf(
			"in internal/auth/auth.go/Login(): error while `a.db.GetUserByEmail()` calling: %w",
			err,
		)
	}

	if !found {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(rawPassword))
		return "", ErrAuthentication
	}

	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(rawPassword)); err != nil {
		return "", ErrAuthentication
	}

	return a.sessions.Issue(session.Identity{
		SubjectID: usr.ID,
		Email:     usr.Email,
		Name:      usr.Name,
	})
}

// AuthenticateUser is an HTTP middleware that verifies the bearer token from the
// Authorization header and stores the user ID in the request context.
// Requests without a valid token are answered with 401.
func (a *Auth) AuthenticateUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		tokenString, ok := bearerToken(request)
		if !ok {
			writeUnauthorized(response)
			return
		}

		identity, err := a.sessions.Verify(tokenString)
		if err != nil {
			logger.Log.Debugln("Error calling the `a.sessions.Verify()`: ", zap.Error(err))
			writeUnauthorized(response)
			return
		}

		ctx := context.WithValue(request.Context(), UserIDKey, identity.SubjectID)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// UserIDFromContext returns the authenticated user's ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	tokenString := strings.TrimSpace(header[len(bearerPrefix):])

	return tokenString, tokenString != ""
}

func writeUnauthorized(response http.ResponseWriter) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusUnauthorized)

	err := json.NewEncoder(response).Encode(models.ErrorResponse{Error: "missing or invalid token"})
	if err != nil {
		logger.Log.Debugln("Error encoding the unauthorized response: ", zap.Error(err))
	}
}
