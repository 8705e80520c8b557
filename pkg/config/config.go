// Package config loads spendnudge settings from an optional JSON file and
// the environment. Environment variables win over the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/thlib/go-timezone-local/tzlocal"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Defaults applied to unset fields.
const (
	DefaultClientSecretFile = "data/client_secret.json"
	DefaultTokenFile        = "data/token.json"

	DefaultStore                = "memory"
	DefaultSource               = "gmail"
	DefaultScanInterval         = 10 * time.Second
	DefaultScanLimit            = 50
	DefaultIngestQueueSize      = 64
	DefaultGamificationInterval = 12 * time.Hour
	DefaultBackupBatchSize      = 10
	DefaultBackupFlushInterval  = 30 * time.Second
)

// Keys holding free-form plugin configuration. They may be a JSON string in
// the environment or a nested object in the config file.
const (
	sourceConfigKey = "SPENDNUDGE_SOURCE_CONFIG"
	backupConfigKey = "SPENDNUDGE_BACKUP_CONFIG"
)

// FileEnv names the environment variable pointing at the config file.
const FileEnv = "SPENDNUDGE_CONFIG"

var validate = mustValidator()

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation("timezone", validateTimezone); err != nil {
		return nil, fmt.Errorf("registering timezone validation: %w", err)
	}
	return v, nil
}

func mustValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic(err)
	}
	return v
}

func validateTimezone(fl validator.FieldLevel) bool {
	_, err := time.LoadLocation(fl.Field().String())
	return err == nil
}

// Config holds the application configuration.
type Config struct {
	// Store selects the persistence backend: memory or postgres.
	// Environment variable: SPENDNUDGE_STORE
	Store string `koanf:"SPENDNUDGE_STORE" validate:"oneof=memory postgres"`

	// Postgres connection settings, used when Store is postgres.
	PostgresDSN      string `koanf:"POSTGRES_DSN"`
	PostgresHost     string `koanf:"POSTGRES_HOST"`
	PostgresPort     int    `koanf:"POSTGRES_PORT" validate:"min=0,max=65535"`
	PostgresDB       string `koanf:"POSTGRES_DB"`
	PostgresUser     string `koanf:"POSTGRES_USER"`
	PostgresPassword string `koanf:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `koanf:"POSTGRES_SSLMODE" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	// Source is the name of the message source plugin.
	// Environment variable: SPENDNUDGE_SOURCE
	Source string `koanf:"SPENDNUDGE_SOURCE" validate:"required"`
	// SourceConfig is the JSON configuration for the source plugin.
	// Environment variable: SPENDNUDGE_SOURCE_CONFIG
	SourceConfig json.RawMessage `koanf:"-"`

	// Backup is the name of the backup plugin. Empty disables backups.
	// Environment variable: SPENDNUDGE_BACKUP
	Backup string `koanf:"SPENDNUDGE_BACKUP"`
	// BackupConfig is the JSON configuration for the backup plugin.
	// Environment variable: SPENDNUDGE_BACKUP_CONFIG
	BackupConfig        json.RawMessage `koanf:"-"`
	BackupBatchSize     int             `koanf:"SPENDNUDGE_BACKUP_BATCH_SIZE" validate:"min=1"`
	BackupFlushInterval time.Duration   `koanf:"SPENDNUDGE_BACKUP_FLUSH_INTERVAL" validate:"min=1s"`
	// RestoreOnStart pulls the backup into the store before the daemon starts.
	RestoreOnStart bool `koanf:"SPENDNUDGE_RESTORE_ON_START"`

	ScanInterval         time.Duration `koanf:"SPENDNUDGE_SCAN_INTERVAL" validate:"min=1s"`
	ScanLimit            int           `koanf:"SPENDNUDGE_SCAN_LIMIT" validate:"min=1,max=500"`
	IngestQueueSize      int           `koanf:"SPENDNUDGE_INGEST_QUEUE_SIZE" validate:"min=1"`
	GamificationInterval time.Duration `koanf:"SPENDNUDGE_GAMIFICATION_INTERVAL" validate:"min=1m"`

	// Timezone is the IANA zone budget periods and calendar days are
	// computed in. Defaults to the system zone.
	Timezone string `koanf:"SPENDNUDGE_TIMEZONE" validate:"timezone"`

	ClientSecretFile string `koanf:"SPENDNUDGE_CLIENT_SECRET_FILE"`
	TokenFile        string `koanf:"SPENDNUDGE_TOKEN_FILE"`
}

// Load reads the file at path, if any, then the environment, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kJson.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	var err error
	if cfg.SourceConfig, err = rawSection(k, sourceConfigKey); err != nil {
		return nil, err
	}
	if cfg.BackupConfig, err = rawSection(k, backupConfigKey); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rawSection returns the plugin configuration under key as raw JSON.
func rawSection(k *koanf.Koanf, key string) (json.RawMessage, error) {
	v := k.Get(key)
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" {
			return nil, nil
		}
		if !json.Valid([]byte(val)) {
			return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalid, key)
		}
		return json.RawMessage(val), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key, err)
		}
		return data, nil
	}
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.ScanLimit == 0 {
		c.ScanLimit = DefaultScanLimit
	}
	if c.IngestQueueSize == 0 {
		c.IngestQueueSize = DefaultIngestQueueSize
	}
	if c.GamificationInterval == 0 {
		c.GamificationInterval = DefaultGamificationInterval
	}
	if c.BackupBatchSize == 0 {
		c.BackupBatchSize = DefaultBackupBatchSize
	}
	if c.BackupFlushInterval == 0 {
		c.BackupFlushInterval = DefaultBackupFlushInterval
	}
	if c.ClientSecretFile == "" {
		c.ClientSecretFile = DefaultClientSecretFile
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
		if tzname, err := tzlocal.RuntimeTZ(); err == nil && tzname != "" {
			if _, err := time.LoadLocation(tzname); err == nil {
				c.Timezone = tzname
			}
		}
	}
}

// Validate checks field constraints. Every error wraps ErrInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Store == "postgres" && c.PostgresDSN == "" && c.PostgresHost == "" {
		return fmt.Errorf("%w: POSTGRES_DSN or POSTGRES_HOST is required for the postgres store", ErrInvalid)
	}
	return nil
}

// Location returns the configured time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
