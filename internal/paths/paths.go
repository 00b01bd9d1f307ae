// Package paths resolves where epirec keeps its configuration, its live
// database, and its backups.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under platform config locations.
const AppName = "epirec"

// Directory and file names.
const (
	DefaultDataDirName = ".epirec-data"
	ConfigFileName     = "config.yaml"
	BackupDirName      = "backups"
)

// Environment variables overriding the directory defaults.
const (
	EnvConfigDir = "EPIREC_CONFIG_DIR"
	EnvDataDir   = "EPIREC_DATA_DIR"
)

// platform lookups, replaceable in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the platform configuration directory:
// $XDG_CONFIG_HOME/epirec or ~/.config/epirec on Linux, and
// os.UserConfigDir()/epirec elsewhere.
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, AppName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", AppName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// ResolveConfigDir applies flag > EPIREC_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > config value > EPIREC_DATA_DIR >
// $(CWD)/.epirec-data.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, v := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// ResolveBackupDir returns configValue made absolute, or the backups
// directory under dataDir when configValue is empty. A relative configValue
// is taken relative to dataDir.
func ResolveBackupDir(dataDir, configValue string) string {
	switch {
	case configValue == "":
		return filepath.Join(dataDir, BackupDirName)
	case filepath.IsAbs(configValue):
		return filepath.Clean(configValue)
	default:
		return filepath.Join(dataDir, configValue)
	}
}

// ConfigFile returns the config.yaml path inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}
