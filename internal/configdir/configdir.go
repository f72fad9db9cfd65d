package configdir

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDir = "/etc/gpucheckpoint"
	// EnvConfigDir overrides the system configuration directory.
	EnvConfigDir = "GPUCHECKPOINT_CONFIG_DIR"
	// ConfigFileName is the file looked up in each configuration directory.
	ConfigFileName = "config.yaml"
)

// ConfigDir resolves the system configuration directory respecting overrides
func ConfigDir() string {
	if env := os.Getenv(EnvConfigDir); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
	}
	return defaultConfigDir
}

// UserConfigPath returns ~/.gpucheckpoint/config.yaml, or "" when the home
// directory cannot be determined.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".gpucheckpoint", ConfigFileName)
}
