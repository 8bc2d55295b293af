package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediatord.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "listen: \":9000\"\nrelayer:\n  interval: 500ms\n  per_second: 5\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Relayer.Interval.Duration != 500*time.Millisecond || cfg.Relayer.PerSecond != 5 {
		t.Fatalf("unexpected relayer config: %+v", cfg.Relayer)
	}
	if cfg.Relayer.Burst != 16 || cfg.Admin.ClockSkew.Duration != 2*time.Minute {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.BridgeConfig != "bridge.toml" || cfg.Index.DSN == "" {
		t.Fatalf("missing path defaults: %+v", cfg)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "relayer:\n  interval: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "soon") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := Load(writeConfig(t, "listen: \":1\"\nvalidator_key: abc\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	_, err := Load(writeConfig(t, "admin:\n  jwt_secret: short\n"))
	if err == nil {
		t.Fatalf("expected secret length error")
	}
	if got, want := err.Error(), "admin.jwt_secret must be at least 32 bytes"; got != want {
		t.Fatalf("unexpected error: got %q, want %q", got, want)
	}
}

func TestLoadFillsLogRotationDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_file:\n  path: /var/log/mediatord.log\n  max_backups: 2\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFile.MaxSizeMB != 100 || cfg.LogFile.MaxBackups != 2 || cfg.LogFile.MaxAgeDays != 28 {
		t.Fatalf("unexpected rotation settings: %+v", cfg.LogFile)
	}
	if cfg.Stream.Buffer != 64 {
		t.Fatalf("unexpected stream buffer %d", cfg.Stream.Buffer)
	}
}
