package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/utils"
)

func TestSampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	if err != nil {
		t.Fatalf("Parse(sample) error = %v", err)
	}

	want := Default()
	if cfg.Sync != want.Sync {
		t.Errorf("sample sync section = %+v, want %+v", cfg.Sync, want.Sync)
	}
	if cfg.Health != want.Health {
		t.Errorf("sample health section = %+v, want %+v", cfg.Health, want.Health)
	}
}

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	s := Default().Sync
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"batch_size", s.BatchSize, 50},
		{"max_retries_per_batch", s.MaxRetriesPerBatch, 3},
		{"initial_backoff", s.InitialBackoff, 1000 * time.Millisecond},
		{"backoff_multiplier", s.BackoffMultiplier, 2.0},
		{"max_backoff", s.MaxBackoff, 60000 * time.Millisecond},
		{"max_retries_per_action", s.MaxRetriesPerAction, 5},
		{"periodic_sync_interval", s.PeriodicSyncInterval, 15 * time.Minute},
		{"worker_initial_backoff", s.WorkerInitialBackoff, 30000 * time.Millisecond},
		{"max_worker_retries", s.MaxWorkerRetries, 5},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
rider_id: rider-7
api:
  base_url: https://tasks.example.com
sync:
  batch_size: 10
  max_backoff: 2m
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.RiderID != "rider-7" || cfg.Sync.BatchSize != 10 || cfg.Sync.MaxBackoff != 2*time.Minute {
		t.Errorf("explicit values not applied: %+v", cfg)
	}
	if cfg.Sync.MaxRetriesPerBatch != 3 || cfg.Sync.PageSize != 20 {
		t.Errorf("defaults lost: %+v", cfg.Sync)
	}

	opts := cfg.SyncOptions()
	if opts.RiderID != "rider-7" || opts.BatchSize != 10 || opts.InitialBackoff != time.Second {
		t.Errorf("SyncOptions() = %+v", opts)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("options from config should validate: %v", err)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero batch size", "sync:\n  batch_size: 0\n"},
		{"max below initial backoff", "sync:\n  initial_backoff: 10s\n  max_backoff: 5s\n"},
		{"multiplier below one", "sync:\n  backoff_multiplier: 0.5\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad url", "api:\n  base_url: not a url\n"},
		{"unknown key", "sync:\n  batchsize: 10\n"},
		{"bad redis addr", "alerts:\n  redis_addr: nohostport\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("Parse(%q) should fail", tt.yaml)
			}
		})
	}
}

func TestValidationErrorHasSuggestion(t *testing.T) {
	_, err := Parse([]byte("sync:\n  page_size: 0\n"))
	var ews *utils.ErrorWithSuggestion
	if !errors.As(err, &ews) {
		t.Fatalf("expected ErrorWithSuggestion, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "PageSize") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIELDSYNC_RIDER_ID", "rider-env")
	t.Setenv("FIELDSYNC_SYNC_BATCH_SIZE", "25")
	t.Setenv("FIELDSYNC_SYNC_PERIODIC_INTERVAL", "5m")

	cfg, err := Parse([]byte("rider_id: rider-file\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.RiderID != "rider-env" {
		t.Errorf("RiderID = %q, env should win", cfg.RiderID)
	}
	if cfg.Sync.BatchSize != 25 || cfg.Sync.PeriodicSyncInterval != 5*time.Minute {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("FIELDSYNC_SYNC_BATCH_SIZE", "lots")
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for non-integer override")
	}
}

func TestYAMLExpandsEnv(t *testing.T) {
	t.Setenv("TEST_TASK_SERVER", "https://tasks.example.com")
	cfg, err := Parse([]byte("api:\n  base_url: ${TEST_TASK_SERVER}\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.API.BaseURL != "https://tasks.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoadMissingFileUsesSample(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want sample default", cfg.Sync.BatchSize)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FIELDSYNC_RIDER_ID=rider-dotenv\n"), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv never overrides variables that are already set
	os.Unsetenv("FIELDSYNC_RIDER_ID")
	t.Cleanup(func() { os.Unsetenv("FIELDSYNC_RIDER_ID") })

	configPath := filepath.Join(dir, "config.yaml")
	if err := WriteSample(configPath, false); err != nil {
		t.Fatalf("WriteSample() error = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RiderID != "rider-dotenv" {
		t.Errorf("RiderID = %q, want value from .env", cfg.RiderID)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteSample(configPath, false); err != nil {
		t.Fatalf("WriteSample() error = %v", err)
	}
	if err := WriteSample(configPath, false); err == nil {
		t.Error("second WriteSample without force should fail")
	}
	if err := WriteSample(configPath, true); err != nil {
		t.Errorf("forced WriteSample error = %v", err)
	}
}

func TestSetCustomConfigPathDirectory(t *testing.T) {
	dir := t.TempDir()
	SetCustomConfigPath(dir)
	defer SetCustomConfigPath("")

	got, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if got != filepath.Join(dir, CONFIG_FILE_PATH) {
		t.Errorf("GetConfigPath() = %q", got)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (stand-in for testing.T.Chdir on Go < 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
