package types

import (
	"errors"
	"path/filepath"
	"time"
)

// Config holds everything needed to attach the trust core to a data directory.
type Config struct {
	DataDir   string       `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Database  string       `json:"database" yaml:"database" mapstructure:"database"`
	BackupDir string       `json:"backup_dir" yaml:"backup_dir" mapstructure:"backup_dir"`
	Backup    BackupConfig `json:"backup" yaml:"backup" mapstructure:"backup"`
	Auth      AuthConfig   `json:"auth" yaml:"auth" mapstructure:"auth"`
	Hash      HashConfig   `json:"hash" yaml:"hash" mapstructure:"hash"`
	Log       LogConfig    `json:"log" yaml:"log" mapstructure:"log"`
}

// BackupConfig tunes the backup engine.
type BackupConfig struct {
	// Timeout bounds a single snapshot or restore copy.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	// StepPages is the number of pages copied per online-backup step; -1 copies all at once.
	StepPages     int  `json:"step_pages" yaml:"step_pages" mapstructure:"step_pages"`
	AuditFailures bool `json:"audit_failures" yaml:"audit_failures" mapstructure:"audit_failures"`
}

// AuthConfig tunes login behavior.
type AuthConfig struct {
	AuditFailedLogins bool `json:"audit_failed_logins" yaml:"audit_failed_logins" mapstructure:"audit_failed_logins"`
	// GenericErrors collapses unknown-user and wrong-password failures into one message.
	GenericErrors bool `json:"generic_errors" yaml:"generic_errors" mapstructure:"generic_errors"`
}

// HashConfig holds password hashing parameters.
type HashConfig struct {
	Argon2     Argon2Config `json:"argon2" yaml:"argon2" mapstructure:"argon2"`
	BcryptCost int          `json:"bcrypt_cost" yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	MemoryKiB   uint32 `json:"memory_kib" yaml:"memory_kib" mapstructure:"memory_kib"`
	Iterations  uint32 `json:"iterations" yaml:"iterations" mapstructure:"iterations"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism" mapstructure:"parallelism"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Defaults.
const (
	DefaultDatabase      = "app.db"
	DefaultBackupDirName = "backups"
	DefaultBackupTimeout = 5 * time.Minute
	DefaultStepPages     = 256
	DefaultArgon2Memory  = 64 * 1024
	DefaultArgon2Time    = 3
	DefaultArgon2Threads = 2
	DefaultBcryptCost    = 12
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Config validation errors.
var (
	ErrDataDirEmpty      = errors.New("data directory must not be empty")
	ErrInvalidLogLevel   = errors.New("unknown log level")
	ErrInvalidLogFormat  = errors.New("unknown log format")
	ErrInvalidStepPages  = errors.New("backup step pages must be positive or -1")
	ErrInvalidTimeout    = errors.New("backup timeout must be positive")
	ErrInvalidHashParams = errors.New("invalid hash parameters")
)

var knownLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var knownLogFormats = map[string]bool{"text": true, "json": true}

// DefaultConfig returns a Config rooted at dataDir with every default applied.
func DefaultConfig(dataDir string) Config {
	c := Config{DataDir: dataDir, Auth: AuthConfig{GenericErrors: true}}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.BackupDir == "" && c.DataDir != "" {
		c.BackupDir = filepath.Join(c.DataDir, DefaultBackupDirName)
	}
	if c.Backup.Timeout == 0 {
		c.Backup.Timeout = DefaultBackupTimeout
	}
	if c.Backup.StepPages == 0 {
		c.Backup.StepPages = DefaultStepPages
	}
	if c.Hash.Argon2.MemoryKiB == 0 {
		c.Hash.Argon2.MemoryKiB = DefaultArgon2Memory
	}
	if c.Hash.Argon2.Iterations == 0 {
		c.Hash.Argon2.Iterations = DefaultArgon2Time
	}
	if c.Hash.Argon2.Parallelism == 0 {
		c.Hash.Argon2.Parallelism = DefaultArgon2Threads
	}
	if c.Hash.BcryptCost == 0 {
		c.Hash.BcryptCost = DefaultBcryptCost
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// DatabasePath returns the live database file path. An absolute Database
// value is used as is; otherwise it is joined to DataDir.
func (c Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.DataDir, c.Database)
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return ErrDataDirEmpty
	}
	if c.Log.Level != "" && !knownLogLevels[c.Log.Level] {
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "" && !knownLogFormats[c.Log.Format] {
		return ErrInvalidLogFormat
	}
	if c.Backup.StepPages < -1 {
		return ErrInvalidStepPages
	}
	if c.Backup.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Hash.BcryptCost != 0 && (c.Hash.BcryptCost < 4 || c.Hash.BcryptCost > 31) {
		return ErrInvalidHashParams
	}
	return nil
}
