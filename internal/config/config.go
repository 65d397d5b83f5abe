// Package config loads runtime configuration for the index core: the
// database path, the schema compatibility window, recycling thresholds
// and logging verbosity. It follows the same viper-based, env-override
// layering the rest of this project's tooling uses, narrowed to what a
// storage core actually needs at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration the core is opened with.
type Config struct {
	DatabasePath string

	// RecyclingEnabled, MaxDiskSizeBytes and MaxPatientCount are read
	// from configuration (RecyclingEnabled is off by default) and handed
	// to the caller as is; nothing in this module evicts patients on its
	// own based on them.
	RecyclingEnabled  bool
	MaxDiskSizeBytes  int64
	MaxPatientCount   int

	// MinCompatibleVersion/MaxCompatibleVersion are read from the
	// schema.min_compatible_version/max_compatible_version keys (zero when
	// unset). The schema manager does not take them: its compatibility
	// window stays the compiled-in MinSupportedVersion..MaxSupportedVersion.
	MinCompatibleVersion int
	MaxCompatibleVersion int

	LogLevel  string
	LogFormat string
}

const envPrefix = "INDEXCORE"

// Load resolves configuration from, in increasing precedence: built-in
// defaults, a TOML config file (if found), and INDEXCORE_*-prefixed
// environment variables.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if path, ok := findConfigFile(); ok {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.path", "./indexcore.db")
	v.SetDefault("recycling.enabled", false)
	v.SetDefault("recycling.max_disk_size_bytes", 0)
	v.SetDefault("recycling.max_patient_count", 0)
	v.SetDefault("schema.min_compatible_version", 0)
	v.SetDefault("schema.max_compatible_version", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	cfg := Config{
		DatabasePath:         v.GetString("database.path"),
		RecyclingEnabled:     v.GetBool("recycling.enabled"),
		MaxDiskSizeBytes:     v.GetInt64("recycling.max_disk_size_bytes"),
		MaxPatientCount:      v.GetInt("recycling.max_patient_count"),
		MinCompatibleVersion: v.GetInt("schema.min_compatible_version"),
		MaxCompatibleVersion: v.GetInt("schema.max_compatible_version"),
		LogLevel:             v.GetString("log.level"),
		LogFormat:            v.GetString("log.format"),
	}

	return cfg, nil
}

// findConfigFile looks for indexcore.toml first in the current
// directory, then in the user's config directory, mirroring the
// project-then-user precedence the rest of this project's tooling uses.
func findConfigFile() (string, bool) {
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, "indexcore.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "indexcore", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	return "", false
}

// WriteDefault writes a default config file (database, recycling and log
// sections, without comments) to path, for operators bootstrapping a new
// deployment. It uses the BurntSushi/toml encoder directly rather than
// viper's writer, since viper drops key ordering.
func WriteDefault(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()

	defaults := struct {
		Database struct {
			Path string `toml:"path"`
		} `toml:"database"`
		Recycling struct {
			Enabled           bool  `toml:"enabled"`
			MaxDiskSizeBytes  int64 `toml:"max_disk_size_bytes"`
			MaxPatientCount   int   `toml:"max_patient_count"`
		} `toml:"recycling"`
		Log struct {
			Level  string `toml:"level"`
			Format string `toml:"format"`
		} `toml:"log"`
	}{}
	defaults.Database.Path = "./indexcore.db"
	defaults.Log.Level = "info"
	defaults.Log.Format = "console"

	return toml.NewEncoder(f).Encode(defaults)
}

// LockTimeoutDefault is the duration callers should wait to acquire the
// single-writer connection before giving up, absent a more specific
// caller-supplied timeout.
const LockTimeoutDefault = 30 * time.Second
