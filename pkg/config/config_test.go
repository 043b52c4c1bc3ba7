package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestDefaultConfig_Session verifies session lifecycle defaults
func TestDefaultConfig_Session(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Session.TimeoutSeconds == 0 {
		t.Error("Session timeout should have default value")
	}
	if cfg.Session.SweepIntervalSeconds == 0 {
		t.Error("Sweep interval should have default value")
	}
	if cfg.Session.CacheTTLSeconds == 0 {
		t.Error("Cache TTL should have default value")
	}
	if cfg.Session.MaxHistoryMessages != 20 {
		t.Errorf("MaxHistoryMessages = %d, want 20", cfg.Session.MaxHistoryMessages)
	}
}

// TestDefaultConfig_Notifier verifies notifier retry defaults
func TestDefaultConfig_Notifier(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Notifier.MaxAttempts != 3 {
		t.Errorf("Notifier MaxAttempts = %d, want 3", cfg.Notifier.MaxAttempts)
	}
	if cfg.Notifier.BaseBackoffSeconds != 2 {
		t.Errorf("Notifier BaseBackoffSeconds = %d, want 2", cfg.Notifier.BaseBackoffSeconds)
	}
	if cfg.Notifier.SideQueueDir == "" {
		t.Error("Side queue dir should not be empty")
	}
	if cfg.Notifier.ReplaySchedule == "" {
		t.Error("Replay schedule should not be empty")
	}
}

// TestDefaultConfig_Gateway verifies gateway defaults
func TestDefaultConfig_Gateway(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Host != "0.0.0.0" {
		t.Error("Gateway host should have default value")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("Gateway port should have default value")
	}
}

// TestDefaultConfig_Providers verifies provider structure
func TestDefaultConfig_Providers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Providers.OpenRouter.APIKey != "" {
		t.Error("OpenRouter API key should be empty by default")
	}
	if cfg.Channels.WhatsApp.AuthToken != "" {
		t.Error("WhatsApp auth token should be empty by default")
	}
	if cfg.Connectors.Dialer.APIKey != "" {
		t.Error("Dialer API key should be empty by default")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("DOTCONNECT_SESSION_TIMEOUT_SECONDS", "120")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Session.TimeoutSeconds; got != 120 {
		t.Fatalf("expected env override timeout 120, got %d", got)
	}
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	t.Setenv("DOTCONNECT_NOTIFIER_MAX_ATTEMPTS", "5")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"notifier": {"max_attempts": 4, "url": "http://example.test/update"}}`
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Notifier.MaxAttempts; got != 5 {
		t.Fatalf("env should win over file, got %d", got)
	}
	if got := cfg.Notifier.URL; got != "http://example.test/update" {
		t.Fatalf("file value should survive for unset env, got %q", got)
	}
}

func TestValidate_RequiresAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without provider api key")
	}

	cfg.Providers.OpenRouter.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
