// Package gatecfg loads the gate's runtime configuration.
// Values come from (highest to lowest priority):
// 1. MODEGUARD_* environment variables
// 2. Config file (~/.modeguard/config.yaml)
// 3. Defaults
// An optional rules overlay (~/.modeguard/rules.yaml) extends the decision
// engine's command patterns; it can only add patterns, never remove the
// built-in ones.
package gatecfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const namespace = "MODEGUARD"

// Env holds all runtime settings for the gate.
type Env struct {
	BaseDir          string `envconfig:"BASE_DIR"`
	SettingsPath     string `envconfig:"SETTINGS_PATH"`
	MaxInputBytes    int    `envconfig:"MAX_INPUT_BYTES" default:"32768"`
	LogRotateBytes   int64  `envconfig:"LOG_ROTATE_BYTES" default:"1048576"`
	LogRetentionDays int    `envconfig:"LOG_RETENTION_DAYS" default:"30"`
	BackupKeep       int    `envconfig:"BACKUP_KEEP" default:"10"`
	BurstWindowSec   int    `envconfig:"BURST_WINDOW_SECONDS" default:"300"`
	BurstThreshold   int    `envconfig:"BURST_THRESHOLD" default:"10"`
	Verbose          bool   `envconfig:"VERBOSE"`
}

// FileConfig is the optional config file under the base directory. The base
// directory itself can only come from the environment or the default, since
// the file is found through it.
type FileConfig struct {
	SettingsPath     string `yaml:"settings_path"`
	MaxInputBytes    int    `yaml:"max_input_bytes"`
	LogRotateBytes   int64  `yaml:"log_rotate_bytes"`
	LogRetentionDays int    `yaml:"log_retention_days"`
	BackupKeep       int    `yaml:"backup_keep"`
	BurstWindowSec   int    `yaml:"burst_window_seconds"`
	BurstThreshold   int    `yaml:"burst_threshold"`
	Verbose          *bool  `yaml:"verbose"`
}

// Load reads the environment, layers in the config file for fields the
// environment does not set, and fills the home-relative defaults that
// envconfig tags cannot express.
func Load() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if env.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		env.BaseDir = filepath.Join(home, ".modeguard")
	}

	if err := applyFileConfig(&env); err != nil {
		return nil, err
	}

	if env.SettingsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		env.SettingsPath = filepath.Join(home, ".claude", "settings.json")
	}
	return &env, nil
}

// applyFileConfig folds config-file values into env for every field whose
// environment variable is unset. A missing file is fine; a broken one is an
// error so a typo never silently changes limits.
func applyFileConfig(env *Env) error {
	path := filepath.Join(env.BaseDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	envUnset := func(key string) bool {
		_, ok := os.LookupEnv(namespace + "_" + key)
		return !ok
	}
	if fc.SettingsPath != "" && envUnset("SETTINGS_PATH") {
		env.SettingsPath = fc.SettingsPath
	}
	if fc.MaxInputBytes > 0 && envUnset("MAX_INPUT_BYTES") {
		env.MaxInputBytes = fc.MaxInputBytes
	}
	if fc.LogRotateBytes > 0 && envUnset("LOG_ROTATE_BYTES") {
		env.LogRotateBytes = fc.LogRotateBytes
	}
	if fc.LogRetentionDays > 0 && envUnset("LOG_RETENTION_DAYS") {
		env.LogRetentionDays = fc.LogRetentionDays
	}
	if fc.BackupKeep > 0 && envUnset("BACKUP_KEEP") {
		env.BackupKeep = fc.BackupKeep
	}
	if fc.BurstWindowSec > 0 && envUnset("BURST_WINDOW_SECONDS") {
		env.BurstWindowSec = fc.BurstWindowSec
	}
	if fc.BurstThreshold > 0 && envUnset("BURST_THRESHOLD") {
		env.BurstThreshold = fc.BurstThreshold
	}
	if fc.Verbose != nil && envUnset("VERBOSE") {
		env.Verbose = *fc.Verbose
	}
	return nil
}

// StatusDir is where per-project policy records live.
func (e *Env) StatusDir() string { return filepath.Join(e.BaseDir, "status") }

// BackupDir is where timestamped settings snapshots live.
func (e *Env) BackupDir() string { return filepath.Join(e.BaseDir, "backups") }

// LogDir is where per-project audit logs live.
func (e *Env) LogDir() string { return filepath.Join(e.BaseDir, "logs") }

// RulesPath is the location of the optional pattern overlay.
func (e *Env) RulesPath() string { return filepath.Join(e.BaseDir, "rules.yaml") }

// Rules is the user-extensible pattern overlay for the decision engine.
type Rules struct {
	// Dangerous holds extra regular expressions joined to the built-in
	// dangerous-command patterns.
	Dangerous []string `yaml:"dangerous"`
	// Allowed holds extra glob patterns joined to the strict-mode
	// allow-list.
	Allowed []string `yaml:"allowed"`
}

// LoadRules reads the overlay at path. A missing file yields an empty
// overlay, not an error; a present-but-broken file is an error so a typo
// never silently widens or narrows the policy.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Rules{}, nil
		}
		return nil, fmt.Errorf("read rules overlay: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules overlay: %w", err)
	}
	return &rules, nil
}
