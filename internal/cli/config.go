package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/epirec/internal/paths"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "EPIREC"

	cfgKeyDataDir = "data_dir"
)

// configKeys lists every key so environment overrides reach Unmarshal.
var configKeys = map[string]any{
	"database":                 types.DefaultDatabase,
	"backup_dir":               "",
	"backup.timeout":           types.DefaultBackupTimeout,
	"backup.step_pages":        types.DefaultStepPages,
	"backup.audit_failures":    false,
	"auth.audit_failed_logins": false,
	"auth.generic_errors":      true,
	"hash.argon2.memory_kib":   types.DefaultArgon2Memory,
	"hash.argon2.iterations":   types.DefaultArgon2Time,
	"hash.argon2.parallelism":  types.DefaultArgon2Threads,
	"hash.bcrypt_cost":         types.DefaultBcryptCost,
	"log.level":                types.DefaultLogLevel,
	"log.format":               types.DefaultLogFormat,
}

// loadConfig resolves directories and reads config.yaml from the config
// directory, writing a default one on first run. EPIREC_* variables
// override file values, except data_dir which follows
// flag > config.yaml > EPIREC_DATA_DIR.
func loadConfig(f *rootFlags) (types.Config, string, error) {
	configDir, err := paths.ResolveConfigDir(f.configDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return types.Config{}, "", fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	for k, def := range configKeys {
		v.SetDefault(k, def)
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return types.Config{}, "", fmt.Errorf("read config: %w", err)
		}
	}

	// Captured before env binding so EPIREC_DATA_DIR ranks below the file.
	fileDataDir := v.GetString(cfgKeyDataDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, "", fmt.Errorf("decode config: %w", err)
	}

	cfg.DataDir, err = paths.ResolveDataDir(f.dataDir, fileDataDir)
	if err != nil {
		return types.Config{}, "", fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.BackupDir = paths.ResolveBackupDir(cfg.DataDir, cfg.BackupDir)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return types.Config{}, "", fmt.Errorf("%w: config: %w", types.ErrInvalidInput, err)
	}
	return cfg, configDir, nil
}

// ensureDefaultConfigFile writes config.yaml with every default spelled out
// when the file does not exist.
func ensureDefaultConfigFile(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	path := paths.ConfigFile(configDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config file: %w", err)
	}

	def := types.DefaultConfig("")
	data, err := yaml.Marshal(defaultFile{
		Database: def.Database,
		Backup: defaultBackup{
			Timeout:       def.Backup.Timeout.String(),
			StepPages:     def.Backup.StepPages,
			AuditFailures: def.Backup.AuditFailures,
		},
		Auth: def.Auth,
		Hash: def.Hash,
		Log:  def.Log,
	})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# epirec configuration. EPIREC_<SECTION>_<KEY> environment variables override these values.\n" +
		"# data_dir: /var/lib/epirec\n" +
		"# backup_dir: /mnt/backups/epirec\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// defaultFile is the shape written to a fresh config.yaml. Durations are
// spelled as strings so the file stays readable.
type defaultFile struct {
	Database string           `yaml:"database"`
	Backup   defaultBackup    `yaml:"backup"`
	Auth     types.AuthConfig `yaml:"auth"`
	Hash     types.HashConfig `yaml:"hash"`
	Log      types.LogConfig  `yaml:"log"`
}

type defaultBackup struct {
	Timeout       string `yaml:"timeout"`
	StepPages     int    `yaml:"step_pages"`
	AuditFailures bool   `yaml:"audit_failures"`
}
