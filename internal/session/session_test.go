package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

func fixedClock(moment time.Time) func() time.Time {
	return func() time.Time { return moment }
}

func TestIssueAndVerify(t *testing.T) {
	manager := New(testSigningKey, 24*time.Hour)

	token, err := manager.Issue(Identity{
		SubjectID: "0b1c6c1e-6d8e-4b55-9bb6-2f1e0c1a9a01",
		Email:     "a@x.com",
		Name:      "Alice",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := manager.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "0b1c6c1e-6d8e-4b55-9bb6-2f1e0c1a9a01", identity.SubjectID)
	assert.Equal(t, "a@x.com", identity.Email)
	assert.Equal(t, "Alice", identity.Name)
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	manager := New(testSigningKey, time.Hour)

	_, err := manager.Issue(Identity{Email: "a@x.com"})
	assert.Error(t, err)
}

func TestVerifyFailures(t *testing.T) {
	issuedAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	issuer := New(testSigningKey, 24*time.Hour, WithClock(fixedClock(issuedAt)))

	validToken, err := issuer.Issue(Identity{SubjectID: "user-1"})
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubjectToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}).SignedString(testSigningKey)
	require.NoError(t, err)

	type tTestCase struct {
		name     string
		verifier *Manager
		token    string
	}
	testCases := []tTestCase{
		{
			name:     "empty token",
			verifier: New(testSigningKey, time.Hour),
			token:    "",
		},
		{
			name:     "malformed token",
			verifier: New(testSigningKey, time.Hour),
			token:    "not.a.jwt",
		},
		{
			name:     "signed with another key",
			verifier: New([]byte("another-key"), 24*time.Hour, WithClock(fixedClock(issuedAt))),
			token:    validToken,
		},
		{
			name:     "expired",
			verifier: New(testSigningKey, 24*time.Hour, WithClock(fixedClock(issuedAt.Add(25*time.Hour)))),
			token:    validToken,
		},
		{
			name:     "unsigned",
			verifier: New(testSigningKey, 24*time.Hour, WithClock(fixedClock(issuedAt))),
			token:    noneToken,
		},
		{
			name:     "no subject",
			verifier: New(testSigningKey, 24*time.Hour, WithClock(fixedClock(issuedAt))),
			token:    noSubjectToken,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			identity, err := testCase.verifier.Verify(testCase.token)
			assert.Nil(t, identity)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

func TestVerifyJustBeforeExpiry(t *testing.T) {
	issuedAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	issuer := New(testSigningKey, 24*time.Hour, WithClock(fixedClock(issuedAt)))

	token, err := issuer.Issue(Identity{SubjectID: "user-1"})
	require.NoError(t, err)

	verifier := New(testSigningKey, 24*time.Hour, WithClock(fixedClock(issuedAt.Add(23*time.Hour))))
	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.SubjectID)
}
