// Package config loads sprintsync settings from config.yaml, environment
// variables and flag overrides through a viper singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sprintpulse/sprintsync/internal/debug"
)

// DirName is the per-workspace config directory searched for config.yaml.
const DirName = ".sprintsync"

var v *viper.Viper

// Initialize sets up the viper configuration singleton. It should be called
// once at startup. An explicit configFile (from --config) wins over discovery.
//
// Precedence: flag overrides > environment > config.yaml > defaults.
// config.yaml lookup: explicit path > .sprintsync/config.yaml walking up from
// CWD > $XDG_CONFIG_HOME/sprintsync/config.yaml.
func Initialize(configFile string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return fmt.Errorf("config file %s: %w", configFile, err)
		}
		v.SetConfigFile(configFile)
		configFileSet = true
	}

	if !configFileSet {
		if path, err := FindProjectConfig(); err == nil {
			v.SetConfigFile(path)
			configFileSet = true
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(configDir, "sprintsync", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// SPRINTSYNC_JIRA_URL maps to jira.url, SPRINTSYNC_SYNC_OVERLAP to sync.overlap.
	v.SetEnvPrefix("SPRINTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Conventional names used by the Jira and Supabase tooling.
	_ = v.BindEnv("jira.api_token", "SPRINTSYNC_JIRA_API_TOKEN", "JIRA_API_TOKEN")
	_ = v.BindEnv("jira.username", "SPRINTSYNC_JIRA_USERNAME", "JIRA_USERNAME")
	_ = v.BindEnv("jira.url", "SPRINTSYNC_JIRA_URL", "JIRA_URL")
	_ = v.BindEnv("database.url", "SPRINTSYNC_DATABASE_URL", "DATABASE_URL", "SUPABASE_DB_URL")

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("json", false)

	v.SetDefault("jira.url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.api_token", "")
	v.SetDefault("jira.projects", []string{})
	v.SetDefault("jira.story_points_field", "customfield_10016")
	v.SetDefault("jira.sprint_field", "customfield_10020")
	v.SetDefault("jira.epic_link_field", "customfield_10014")
	v.SetDefault("jira.page_size", 100)
	v.SetDefault("jira.timeout", "30s")
	v.SetDefault("jira.search_api", "legacy")
	v.SetDefault("jira.timezone", "UTC")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)

	// Incremental pulls re-read this much history before the watermark to
	// absorb clock skew and Jira's minute-granular JQL.
	v.SetDefault("sync.overlap", "5m")
	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.concurrency", 4)

	v.SetDefault("status_map.path", "")

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("report.model", "claude-3-5-haiku-latest")
}

// ResetForTesting clears the config state, allowing Initialize() to be called again.
// WARNING: Not thread-safe. Only call from single-threaded test contexts.
func ResetForTesting() {
	v = nil
}

// FindProjectConfig walks up from the working directory looking for
// .sprintsync/config.yaml.
func FindProjectConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, DirName, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return "", fmt.Errorf("no %s/config.yaml found (run 'sprintsync init' first)", DirName)
}

// ConfigFileUsed returns the path of the loaded config.yaml, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a list value. Comma separated strings (the only
// way to express a list in an environment variable) are split.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Set overrides a value for the rest of the process (flag bindings, tests).
func Set(key string, value interface{}) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

// AllKeys returns every known key in no particular order.
func AllKeys() []string {
	if v == nil {
		return nil
	}
	return v.AllKeys()
}

// Get returns the raw value for key.
func Get(key string) interface{} {
	if v == nil {
		return nil
	}
	return v.Get(key)
}
