// Package config assembles the service configuration from defaults, an
// optional JSON or YAML file, environment variables (including a .env file)
// and command-line flags, in increasing order of priority.
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RunAddr                   string        `env:"SERVER_ADDRESS" validate:"hostname_port"`
	LogLevel                  string        `env:"LOG_LEVEL" validate:"loglevel"`
	DatabaseDSN               string        `env:"DATABASE_DSN"`
	SQLitePath                string        `env:"SQLITE_PATH" validate:"omitempty,filepath"`
	DBConnectionTimeout       time.Duration `env:"DB_CONNECTION_TIMEOUT" validate:"gt=0"`
	MigrationsDir             string        `env:"MIGRATIONS_DIR"`
	AuthSigningKey            string        `env:"AUTH_SIGNING_KEY" validate:"omitempty,signingkey"`
	TokenTTL                  time.Duration `env:"TOKEN_TTL" validate:"gt=0"`
	BcryptCost                int           `env:"BCRYPT_COST" validate:"min=4,max=31"`
	CORSAllowedOrigins        []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	TrustedSubnet             string        `env:"TRUSTED_SUBNET" validate:"omitempty,cidr"`
	NATSURL                   string        `env:"NATS_URL" validate:"omitempty,url"`
	NATSSubject               string        `env:"NATS_SUBJECT" validate:"required"`
	EventsChannelCapacity     int           `env:"EVENTS_CHANNEL_CAPACITY" validate:"gt=0"`
	DelayBetweenEventsFlushes time.Duration `env:"DELAY_BETWEEN_EVENTS_FLUSHES" validate:"gt=0"`
	ConfigFile                string        `env:"CONFIG"`
}

// fileConfig mirrors Config for JSON and YAML files. Durations are written
// the way time.ParseDuration reads them ("10s", "24h").
type fileConfig struct {
	RunAddr                   string   `json:"server_address" yaml:"server_address"`
	LogLevel                  string   `json:"log_level" yaml:"log_level"`
	DatabaseDSN               string   `json:"database_dsn" yaml:"database_dsn"`
	SQLitePath                string   `json:"sqlite_path" yaml:"sqlite_path"`
	DBConnectionTimeout       string   `json:"db_connection_timeout" yaml:"db_connection_timeout"`
	MigrationsDir             string   `json:"migrations_dir" yaml:"migrations_dir"`
	AuthSigningKey            string   `json:"auth_signing_key" yaml:"auth_signing_key"`
	TokenTTL                  string   `json:"token_ttl" yaml:"token_ttl"`
	BcryptCost                int      `json:"bcrypt_cost" yaml:"bcrypt_cost"`
	CORSAllowedOrigins        []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	TrustedSubnet             string   `json:"trusted_subnet" yaml:"trusted_subnet"`
	NATSURL                   string   `json:"nats_url" yaml:"nats_url"`
	NATSSubject               string   `json:"nats_subject" yaml:"nats_subject"`
	EventsChannelCapacity     int      `json:"events_channel_capacity" yaml:"events_channel_capacity"`
	DelayBetweenEventsFlushes string   `json:"delay_between_events_flushes" yaml:"delay_between_events_flushes"`
}

var defaultConfig = Config{
	RunAddr:                   ":8080",
	LogLevel:                  "info",
	DBConnectionTimeout:       10 * time.Second,
	MigrationsDir:             "cmd/tasktracker/migrations",
	TokenTTL:                  24 * time.Hour,
	BcryptCost:                10,
	CORSAllowedOrigins:        []string{"http://localhost:5173"},
	NATSSubject:               "tasktracker.tasks",
	EventsChannelCapacity:     100,
	DelayBetweenEventsFlushes: 2 * time.Second,
}

func applyDefaults(values *Config, defaults Config) {
	*values = defaults
	values.CORSAllowedOrigins = append([]string(nil), defaults.CORSAllowedOrigins...)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	return allowedLogLevels[fieldLevel.Field().String()]
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	_, err := os.Stat(fieldLevel.Field().String())

	return err == nil || os.IsNotExist(err)
}

func validateSigningKey(fieldLevel validator.FieldLevel) bool {
	key, err := DecodeSigningKey(fieldLevel.Field().String())
	return err == nil && len(key) > 0
}

// DecodeSigningKey decodes a base64url signing key, padded or not.
func DecodeSigningKey(encoded string) ([]byte, error) {
	if key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "=")); err == nil {
		return key, nil
	}

	key, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/DecodeSigningKey(): error while `base64.URLEncoding.DecodeString()` calling: %w", err)
	}

	return key, nil
}

func (c *Config) validate() error {
	validate := validator.New()

	if err := validate.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return err
	}

	if err := validate.RegisterValidation("signingkey", validateSigningKey); err != nil {
		return err
	}

	if err := validate.RegisterValidation("filepath", validateFilePath); err != nil {
		return err
	}

	return validate.Struct(c)
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/applyFile(): error while `os.ReadFile()` calling: %w", err)
	}

	var fromFile fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fromFile)
	default:
		err = json.Unmarshal(data, &fromFile)
	}
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/applyFile(): error while parsing %s: %w", path, err)
	}

	overrideString(&c.RunAddr, fromFile.RunAddr)
	overrideString(&c.LogLevel, fromFile.LogLevel)
	overrideString(&c.DatabaseDSN, fromFile.DatabaseDSN)
	overrideString(&c.SQLitePath, fromFile.SQLitePath)
	overrideString(&c.MigrationsDir, fromFile.MigrationsDir)
	overrideString(&c.AuthSigningKey, fromFile.AuthSigningKey)
	overrideString(&c.TrustedSubnet, fromFile.TrustedSubnet)
	overrideString(&c.NATSURL, fromFile.NATSURL)
	overrideString(&c.NATSSubject, fromFile.NATSSubject)

	if fromFile.BcryptCost != 0 {
		c.BcryptCost = fromFile.BcryptCost
	}
	if fromFile.EventsChannelCapacity != 0 {
		c.EventsChannelCapacity = fromFile.EventsChannelCapacity
	}
	if len(fromFile.CORSAllowedOrigins) != 0 {
		c.CORSAllowedOrigins = fromFile.CORSAllowedOrigins
	}

	durations := []struct {
		target *time.Duration
		value  string
	}{
		{&c.DBConnectionTimeout, fromFile.DBConnectionTimeout},
		{&c.TokenTTL, fromFile.TokenTTL},
		{&c.DelayBetweenEventsFlushes, fromFile.DelayBetweenEventsFlushes},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("in internal/config/config.go/applyFile(): error while `time.ParseDuration()` calling: %w", err)
		}
		*d.target = parsed
	}

	return nil
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

type flagValues struct {
	set    map[string]bool
	values Config
}

func parseFlags() (*flagValues, error) {
	result := &flagValues{set: map[string]bool{}}

	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.StringVar(&result.values.RunAddr, "a", "", "address and port to run server")
	flagSet.StringVar(&result.values.LogLevel, "l", "", "logger level")
	flagSet.StringVar(&result.values.DatabaseDSN, "d", "", "PostgreSQL connection string")
	flagSet.StringVar(&result.values.SQLitePath, "s", "", "SQLite database file")
	flagSet.StringVar(&result.values.MigrationsDir, "m", "", "directory with PostgreSQL migrations")
	flagSet.StringVar(&result.values.AuthSigningKey, "k", "", "base64url-encoded token signing key")
	flagSet.StringVar(&result.values.TrustedSubnet, "t", "", "CIDR allowed to read internal stats")
	flagSet.StringVar(&result.values.NATSURL, "n", "", "NATS server URL for task events")
	flagSet.StringVar(&result.values.ConfigFile, "c", "", "JSON or YAML config file")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		result.set[f.Name] = true
	})

	return result, nil
}

func (c *Config) applyFlags(flags *flagValues) {
	targets := map[string]struct {
		target *string
		value  string
	}{
		"a": {&c.RunAddr, flags.values.RunAddr},
		"l": {&c.LogLevel, flags.values.LogLevel},
		"d": {&c.DatabaseDSN, flags.values.DatabaseDSN},
		"s": {&c.SQLitePath, flags.values.SQLitePath},
		"m": {&c.MigrationsDir, flags.values.MigrationsDir},
		"k": {&c.AuthSigningKey, flags.values.AuthSigningKey},
		"t": {&c.TrustedSubnet, flags.values.TrustedSubnet},
		"n": {&c.NATSURL, flags.values.NATSURL},
		"c": {&c.ConfigFile, flags.values.ConfigFile},
	}

	for name := range flags.set {
		if t, ok := targets[name]; ok {
			*t.target = t.value
		}
	}
}

// New builds the configuration. Priority: flags > environment > config file > defaults.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Unable to load .env file: %v", err)
	}

	var flags *flagValues
	if !options.disableFlagsParsing {
		var err error
		flags, err = parseFlags()
		if err != nil {
			return nil, fmt.Errorf("in internal/config/config.go/New(): error while `parseFlags()` calling: %w", err)
		}
	}

	values := &Config{}
	applyDefaults(values, defaultConfig)

	configFile := os.Getenv("CONFIG")
	if flags != nil && flags.set["c"] {
		configFile = flags.values.ConfigFile
	}
	if configFile != "" {
		if err := values.applyFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(values); err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}

	if flags != nil {
		values.applyFlags(flags)
	}
	values.ConfigFile = configFile

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}
