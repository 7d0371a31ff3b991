package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Policy.WarningThreshold != 2 || cfg.Policy.MaxViolations != 3 {
		t.Errorf("unexpected default policy: %+v", cfg.Policy)
	}
	if cfg.Policy.DebounceWindowMs != 2000 {
		t.Errorf("unexpected default debounce window: %d", cfg.Policy.DebounceWindowMs)
	}
	if cfg.Fullscreen.MaxRetries != 3 {
		t.Errorf("unexpected default retry budget: %d", cfg.Fullscreen.MaxRetries)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[exam]
exam_id = "exam-42"
duration_minutes = 90

[policy]
warning_threshold = 1
max_violations = 5

[server]
base_url = "https://exams.example.com/api"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Exam.ExamID != "exam-42" {
		t.Errorf("exam_id = %q", cfg.Exam.ExamID)
	}
	if cfg.Exam.DurationMinutes != 90 {
		t.Errorf("duration_minutes = %d", cfg.Exam.DurationMinutes)
	}
	if cfg.Policy.MaxViolations != 5 {
		t.Errorf("max_violations = %d", cfg.Policy.MaxViolations)
	}
	if cfg.Server.BaseURL != "https://exams.example.com/api" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	// Unset sections keep defaults.
	if cfg.Fullscreen.MaxRetries != 3 {
		t.Errorf("fullscreen defaults lost: %+v", cfg.Fullscreen)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
policy:
  warning_threshold: 1
  max_violations: 2
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.MaxViolations != 2 {
		t.Errorf("max_violations = %d", cfg.Policy.MaxViolations)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"exam": {"exam_id": "exam-9", "duration_minutes": 30}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Exam.ExamID != "exam-9" || cfg.Exam.DurationMinutes != 30 {
		t.Errorf("exam = %+v", cfg.Exam)
	}
}

func TestMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.toml")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.MaxViolations != 3 {
		t.Errorf("expected defaults, got %+v", cfg.Policy)
	}
}

func TestValidationRejectsBadPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MaxViolations = 1
	cfg.Policy.WarningThreshold = 2
	if err := cfg.Validate(); err == nil {
		t.Error("max below warning threshold should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Policy.WarningThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero warning threshold should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Logging.Output = "syslog"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log output should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("file output without a path should fail validation")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCTORD_EXAM_ID", "env-exam")
	t.Setenv("PROCTORD_SERVER_URL", "https://env.example.com")
	t.Setenv("PROCTORD_LOG_LEVEL", "debug")
	t.Setenv("PROCTORD_EXAM_DURATION_MINUTES", "45")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Exam.ExamID != "env-exam" {
		t.Errorf("exam_id = %q", cfg.Exam.ExamID)
	}
	if cfg.Server.BaseURL != "https://env.example.com" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Exam.DurationMinutes != 45 {
		t.Errorf("duration = %d", cfg.Exam.DurationMinutes)
	}
}

func TestCredentialFromEnv(t *testing.T) {
	t.Setenv("PROCTORD_CREDENTIAL", "bearer-token-abc")

	cfg := DefaultConfig()
	if got := cfg.Credential(); got != "bearer-token-abc" {
		t.Errorf("Credential() = %q", got)
	}

	cfg.Exam.CredentialEnv = ""
	if got := cfg.Credential(); got != "" {
		t.Errorf("empty credential_env should yield empty credential, got %q", got)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Exam.ExamID = "persisted"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Exam.ExamID != "persisted" {
		t.Errorf("round trip lost exam_id: %q", loaded.Exam.ExamID)
	}
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config file to be created")
	}
	if cfg.Policy.MaxViolations != 3 {
		t.Errorf("unexpected defaults: %+v", cfg.Policy)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file missing: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("existing file should not be recreated")
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := SaveConfig(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer loader.Close()

	reloaded := make(chan *Config, 1)
	loader.OnChange(func(c *Config) { reloaded <- c })

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	updated := DefaultConfig()
	updated.Logging.Level = "debug"
	if err := SaveConfig(updated, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.Logging.Level != "debug" {
			t.Errorf("reload picked up stale config: %+v", c.Logging)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config reload never fired")
	}
}
