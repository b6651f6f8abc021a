package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG", "")

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.RunAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.DBConnectionTimeout)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "tasktracker.tasks", cfg.NATSSubject)
	assert.Empty(t, cfg.AuthSigningKey)
	assert.Empty(t, cfg.DatabaseDSN)
}

const testJSON = `{
	"server_address": ":3000",
	"database_dsn": "json-dsn",
	"token_ttl": "1h",
	"bcrypt_cost": 12,
	"cors_allowed_origins": ["http://json.example"]
}`

const testYAML = `
server_address: ":3500"
log_level: debug
sqlite_path: tasks.db
delay_between_events_flushes: 500ms
trusted_subnet: 10.0.0.0/8
`

func writeTempConfig(t *testing.T, pattern, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), pattern)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigPriorityJSONOnly(t *testing.T) {
	t.Setenv("CONFIG", writeTempConfig(t, "config.json", testJSON))

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.RunAddr)
	assert.Equal(t, "json-dsn", cfg.DatabaseDSN)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, []string{"http://json.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel) // default
}

func TestConfigYAML(t *testing.T) {
	t.Setenv("CONFIG", writeTempConfig(t, "config.yaml", testYAML))

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":3500", cfg.RunAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tasks.db", cfg.SQLitePath)
	assert.Equal(t, 500*time.Millisecond, cfg.DelayBetweenEventsFlushes)
	assert.Equal(t, "10.0.0.0/8", cfg.TrustedSubnet)
}

func TestConfigPriorityJSONPlusEnv(t *testing.T) {
	t.Setenv("CONFIG", writeTempConfig(t, "config.json", testJSON))
	t.Setenv("SERVER_ADDRESS", ":4000")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example,http://b.example")

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.RunAddr) // env overrides json
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "json-dsn", cfg.DatabaseDSN) // from JSON
}

func TestConfigPriorityAllSources(t *testing.T) {
	t.Setenv("CONFIG", writeTempConfig(t, "config.json", testJSON))
	t.Setenv("SERVER_ADDRESS", ":4000")
	t.Setenv("DATABASE_DSN", "env-dsn")

	originalArgs := os.Args
	t.Cleanup(func() { os.Args = originalArgs })
	os.Args = []string{
		"testbin",
		"-a", ":6000",
		"-n", "nats://127.0.0.1:4222",
	}

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.RunAddr) // CLI > ENV > JSON
	assert.Equal(t, "env-dsn", cfg.DatabaseDSN)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, 12, cfg.BcryptCost) // from JSON
}

func TestConfigFileFlag(t *testing.T) {
	t.Setenv("CONFIG", "")

	originalArgs := os.Args
	t.Cleanup(func() { os.Args = originalArgs })
	os.Args = []string{"testbin", "-c", writeTempConfig(t, "config.yml", testYAML)}

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, ":3500", cfg.RunAddr)
}

func TestValidation(t *testing.T) {
	validKey := base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	type tTestCase struct {
		name      string
		envName   string
		envValue  string
		expectErr bool
	}
	testCases := []tTestCase{
		{name: "valid signing key", envName: "AUTH_SIGNING_KEY", envValue: validKey, expectErr: false},
		{name: "padded signing key", envName: "AUTH_SIGNING_KEY", envValue: base64.URLEncoding.EncodeToString([]byte("key")), expectErr: false},
		{name: "signing key not base64url", envName: "AUTH_SIGNING_KEY", envValue: "not base64!", expectErr: true},
		{name: "unknown log level", envName: "LOG_LEVEL", envValue: "verbose", expectErr: true},
		{name: "bcrypt cost too low", envName: "BCRYPT_COST", envValue: "3", expectErr: true},
		{name: "bcrypt cost too high", envName: "BCRYPT_COST", envValue: "32", expectErr: true},
		{name: "bad trusted subnet", envName: "TRUSTED_SUBNET", envValue: "10.0.0.1", expectErr: true},
		{name: "bad server address", envName: "SERVER_ADDRESS", envValue: "no-port", expectErr: true},
		{name: "bad duration", envName: "TOKEN_TTL", envValue: "forever", expectErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Setenv("CONFIG", "")
			t.Setenv(testCase.envName, testCase.envValue)

			_, err := New(WithDisableFlagsParsing(true))
			if testCase.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecodeSigningKey(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01, 0x02}

	for _, encoded := range []string{
		base64.RawURLEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
	} {
		key, err := DecodeSigningKey(encoded)
		require.NoError(t, err)
		assert.Equal(t, raw, key)
	}

	_, err := DecodeSigningKey("+/+/")
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG", filepath.Join(t.TempDir(), "absent.json"))

	_, err := New(WithDisableFlagsParsing(true))
	assert.Error(t, err)
}
