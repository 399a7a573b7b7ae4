package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestSampleConfigEmbedded verifies config.sample.yaml is embedded in binary via go:embed
func TestSampleConfigEmbedded(t *testing.T) {
	content := GetSampleConfig()
	if content == "" {
		t.Fatal("expected embedded sample config to have content, got empty string")
	}
	for _, key := range []string{"database:", "session:", "notifications:", "page_size:", "alerts:"} {
		if !strings.Contains(content, key) {
			t.Errorf("expected sample config to contain %q", key)
		}
	}
}

// TestSampleConfigParsesToDefaults verifies the sample describes the same settings DefaultConfig returns
func TestSampleConfigParsesToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, ".local", "share"))

	cfg, err := Parse([]byte(GetSampleConfig()))
	if err != nil {
		t.Fatalf("Parse(sample) error = %v", err)
	}
	def := DefaultConfig()

	if cfg.Database.Path != def.Database.Path {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, def.Database.Path)
	}
	if cfg.Notifications.Alerts.Log.Path != def.Notifications.Alerts.Log.Path {
		t.Errorf("alert log path = %q, want %q", cfg.Notifications.Alerts.Log.Path, def.Notifications.Alerts.Log.Path)
	}
	if cfg.Notifications.PageSize != def.Notifications.PageSize || cfg.OutputFormat != def.OutputFormat {
		t.Errorf("sample = %+v, defaults = %+v", cfg, def)
	}
	if cfg.Notifications.Reminders != def.Notifications.Reminders {
		t.Errorf("reminders = %+v, want %+v", cfg.Notifications.Reminders, def.Notifications.Reminders)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("sample config invalid: %v", err)
	}
}

// TestSampleConfigCopyOnFirstRun verifies first run copies the sample to the XDG config path
func TestSampleConfigCopyOnFirstRun(t *testing.T) {
	configDir, _ := setXDG(t)

	if _, err := Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(configDir, "hubcache", "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read created config file: %v", err)
	}
	if string(data) != GetSampleConfig() {
		t.Error("created config differs from the embedded sample")
	}
}
