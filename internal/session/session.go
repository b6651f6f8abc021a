// Package session issues and verifies the signed, time-limited bearer tokens
// that identify a logged-in user. Verification is purely cryptographic and
// temporal: it never consults the credential store.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

// ErrAuthentication is returned for malformed, mis-signed or expired tokens.
var ErrAuthentication = models.ErrAuthentication

// Claims are the JWT claims carried by a session token.
// The subject claim holds the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Identity is what a verified token tells about its bearer.
type Identity struct {
	SubjectID string
	Email     string
	Name      string
}

// Manager signs and verifies HS256 session tokens with a process-wide key.
type Manager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

type initOptions struct {
	now func() time.Time
}

// InitOption configures a Manager.
type InitOption func(*initOptions)

// WithClock replaces time.Now, mostly for expiry tests.
func WithClock(now func() time.Time) InitOption {
	return func(options *initOptions) {
		options.now = now
	}
}

// New creates a Manager. Tokens it issues expire after ttl.
func New(signingKey []byte, ttl time.Duration, optionsProto ...InitOption) *Manager {
	options := &initOptions{
		now: time.Now,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	return &Manager{
		signingKey: signingKey,
		ttl:        ttl,
		now:        options.now,
	}
}

// Issue returns a signed token asserting the given identity.
func (m *Manager) Issue(identity Identity) (string, error) {
	if identity.SubjectID == "" {
		return "", errors.New("session subject must not be empty")
	}

	issuedAt := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.SubjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
		Email: identity.Email,
		Name:  identity.Name,
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf(
			"in internal/session/session.go/Issue(): error while `token.SignedString()` calling: %w",
			err,
		)
	}

	return tokenString, nil
}

// Verify checks the signature and expiry of tokenString and returns the
// identity it carries.
func (m *Manager) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token: %w", ErrAuthentication)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.signingKey, nil
		},
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", ErrAuthentication)
	}

	// Expiry is checked here against the injected clock, not jwt.TimeFunc.
	if !claims.VerifyExpiresAt(m.now(), true) {
		return nil, fmt.Errorf("token expired: %w", ErrAuthentication)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("token without subject: %w", ErrAuthentication)
	}

	return &Identity{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
	}, nil
}
