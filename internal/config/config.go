// Package config handles configuration loading, validation, and management for proctord.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Daemon holds process-level settings.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// Exam identifies the exam attempt this daemon protects.
	Exam ExamConfig `toml:"exam" json:"exam" yaml:"exam"`

	// Policy holds the escalation thresholds and debounce window.
	Policy PolicyConfig `toml:"policy" json:"policy" yaml:"policy"`

	// Capture configures the signal sources.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Fullscreen configures automatic re-entry enforcement.
	Fullscreen FullscreenConfig `toml:"fullscreen" json:"fullscreen" yaml:"fullscreen"`

	// Server configures reconciliation with the exam server.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Audit configures the tamper-evident violation store.
	Audit AuditConfig `toml:"audit" json:"audit" yaml:"audit"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	// DataDir is the root directory for daemon state.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// LockFile guards against a second daemon for the same candidate.
	LockFile string `toml:"lock_file" json:"lock_file" yaml:"lock_file"`

	// ListenAddr is the local HTTP surface for the presentation layer
	// and proctorctl. Loopback only.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// ExamConfig identifies the exam attempt.
type ExamConfig struct {
	// ExamID is the server-side exam identifier.
	ExamID string `toml:"exam_id" json:"exam_id" yaml:"exam_id"`

	// DurationMinutes is the exam length.
	DurationMinutes int `toml:"duration_minutes" json:"duration_minutes" yaml:"duration_minutes"`

	// CredentialEnv names the environment variable holding the bearer
	// credential. The credential itself never lives in the config file.
	CredentialEnv string `toml:"credential_env" json:"credential_env" yaml:"credential_env"`
}

// PolicyConfig holds escalation thresholds.
type PolicyConfig struct {
	// WarningThreshold is the count at which the tier becomes critical.
	WarningThreshold int `toml:"warning_threshold" json:"warning_threshold" yaml:"warning_threshold"`

	// MaxViolations is the count at which the session terminates.
	MaxViolations int `toml:"max_violations" json:"max_violations" yaml:"max_violations"`

	// DebounceWindowMs is the per-kind acceptance window in milliseconds.
	DebounceWindowMs int `toml:"debounce_window_ms" json:"debounce_window_ms" yaml:"debounce_window_ms"`
}

// CaptureConfig configures the signal sources.
type CaptureConfig struct {
	// SpoolDir is where the kiosk shim drops signal records.
	SpoolDir string `toml:"spool_dir" json:"spool_dir" yaml:"spool_dir"`

	// DesktopSignals enables the D-Bus screensaver source on Linux.
	DesktopSignals bool `toml:"desktop_signals" json:"desktop_signals" yaml:"desktop_signals"`

	// DevtoolsDeltaPx is the viewport delta above which the devtools
	// heuristic fires.
	DevtoolsDeltaPx int `toml:"devtools_delta_px" json:"devtools_delta_px" yaml:"devtools_delta_px"`

	// BufferSize is the intent channel capacity.
	BufferSize int `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`
}

// FullscreenConfig configures automatic re-entry enforcement.
type FullscreenConfig struct {
	// CommandDir is where re-entry commands are written for the shim.
	CommandDir string `toml:"command_dir" json:"command_dir" yaml:"command_dir"`

	// MaxRetries is the automatic re-entry budget per exit.
	MaxRetries int `toml:"max_retries" json:"max_retries" yaml:"max_retries"`

	// RetryDelayMs is the pause between attempts in milliseconds.
	RetryDelayMs int `toml:"retry_delay_ms" json:"retry_delay_ms" yaml:"retry_delay_ms"`

	// DeniedTolerance is the consecutive permission denials tolerated
	// before enforcement stops early.
	DeniedTolerance int `toml:"denied_tolerance" json:"denied_tolerance" yaml:"denied_tolerance"`
}

// ServerConfig configures reconciliation with the exam server.
type ServerConfig struct {
	// BaseURL is the exam server API root. Empty disables reconciliation.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// TimeoutSec bounds each request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// AuditConfig configures the tamper-evident violation store.
type AuditConfig struct {
	// Enabled toggles persistence. Disabled keeps the ledger in memory only.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the rotation threshold.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxAgeDays is the retention window for rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Daemon: DaemonConfig{
			DataDir:            dataDir,
			LockFile:           filepath.Join(dataDir, "proctord.lock"),
			ListenAddr:         "127.0.0.1:7311",
			ShutdownTimeoutSec: 10,
		},
		Exam: ExamConfig{
			DurationMinutes: 60,
			CredentialEnv:   "PROCTORD_CREDENTIAL",
		},
		Policy: PolicyConfig{
			WarningThreshold: 2,
			MaxViolations:    3,
			DebounceWindowMs: 2000,
		},
		Capture: CaptureConfig{
			SpoolDir:        filepath.Join(dataDir, "spool"),
			DesktopSignals:  true,
			DevtoolsDeltaPx: 160,
			BufferSize:      100,
		},
		Fullscreen: FullscreenConfig{
			CommandDir:      filepath.Join(dataDir, "commands"),
			MaxRetries:      3,
			RetryDelayMs:    500,
			DeniedTolerance: 2,
		},
		Server: ServerConfig{
			TimeoutSec: 10,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "audit.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxAgeDays: 30,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// defaultDataDir returns the platform-specific state directory.
func defaultDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "proctord")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "proctord")
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, _ := os.UserHomeDir()
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataHome, "proctord")
	}
}

// ConfigPath returns the platform-specific default config file path.
func ConfigPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Preferences", "proctord", "config.toml")
	case "windows":
		appData := os.Getenv("APPDATA")
		return filepath.Join(appData, "proctord", "config.toml")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			homeDir, _ := os.UserHomeDir()
			configHome = filepath.Join(homeDir, ".config")
		}
		return filepath.Join(configHome, "proctord", "config.toml")
	}
}

// ApplyEnvOverrides applies PROCTORD_* environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_DATA_DIR"); v != "" {
		c.Daemon.DataDir = v
	}
	if v := os.Getenv("PROCTORD_LISTEN_ADDR"); v != "" {
		c.Daemon.ListenAddr = v
	}
	if v := os.Getenv("PROCTORD_EXAM_ID"); v != "" {
		c.Exam.ExamID = v
	}
	if v := os.Getenv("PROCTORD_EXAM_DURATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Exam.DurationMinutes = n
		}
	}
	if v := os.Getenv("PROCTORD_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("PROCTORD_SPOOL_DIR"); v != "" {
		c.Capture.SpoolDir = v
	}
	if v := os.Getenv("PROCTORD_COMMAND_DIR"); v != "" {
		c.Fullscreen.CommandDir = v
	}
	if v := os.Getenv("PROCTORD_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Daemon.DataDir == "" {
		errs = append(errs, errors.New("daemon.data_dir must be set"))
	}
	if c.Daemon.ListenAddr == "" {
		errs = append(errs, errors.New("daemon.listen_addr must be set"))
	}

	if c.Policy.WarningThreshold < 1 {
		errs = append(errs, errors.New("policy.warning_threshold must be at least 1"))
	}
	if c.Policy.MaxViolations < 1 {
		errs = append(errs, errors.New("policy.max_violations must be at least 1"))
	}
	if c.Policy.MaxViolations < c.Policy.WarningThreshold {
		errs = append(errs, fmt.Errorf("policy.max_violations (%d) must not be below policy.warning_threshold (%d)",
			c.Policy.MaxViolations, c.Policy.WarningThreshold))
	}
	if c.Policy.DebounceWindowMs < 0 {
		errs = append(errs, errors.New("policy.debounce_window_ms must not be negative"))
	}

	if c.Exam.DurationMinutes < 1 {
		errs = append(errs, errors.New("exam.duration_minutes must be at least 1"))
	}

	if c.Fullscreen.MaxRetries < 1 {
		errs = append(errs, errors.New("fullscreen.max_retries must be at least 1"))
	}
	if c.Fullscreen.RetryDelayMs < 0 {
		errs = append(errs, errors.New("fullscreen.retry_delay_ms must not be negative"))
	}

	if c.Capture.DevtoolsDeltaPx < 1 {
		errs = append(errs, errors.New("capture.devtools_delta_px must be positive"))
	}

	if c.Server.TimeoutSec < 1 {
		errs = append(errs, errors.New("server.timeout_sec must be at least 1"))
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, errors.New("audit.path must be set when audit is enabled"))
	}

	switch c.Logging.Output {
	case "stdout", "stderr", "file", "both", "":
	default:
		errs = append(errs, fmt.Errorf("logging.output %q is not one of stdout, stderr, file, both", c.Logging.Output))
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		errs = append(errs, errors.New("logging.file_path must be set for file output"))
	}

	return errors.Join(errs...)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Daemon.DataDir,
		c.Capture.SpoolDir,
		c.Fullscreen.CommandDir,
	}
	if c.Audit.Enabled {
		dirs = append(dirs, filepath.Dir(c.Audit.Path))
	}
	if c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Credential reads the bearer credential from the configured environment
// variable.
func (c *Config) Credential() string {
	if c.Exam.CredentialEnv == "" {
		return ""
	}
	return os.Getenv(c.Exam.CredentialEnv)
}

// SaveConfig writes the configuration to the given path as TOML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
