package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/talkdrop/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Schedule.URLs = []string{"schedule.json"}
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_NeedsSchedule(t *testing.T) {
	cfg := NewDefaultConfig()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "schedule location") {
		t.Fatalf("err = %v, want missing schedule error", err)
	}

	cfg.Schedule.URLs = []string{" , "}
	if err := cfg.Validate(); err == nil {
		t.Fatal("blank schedule entries should not count")
	}

	cfg.Schedule.URLs = []string{"./schedule.json"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}

func TestFilesConfig_UploadDirDefault(t *testing.T) {
	cfg := FilesConfig{Root: "/srv/talks", HashWorkers: 2}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.UploadDir != filepath.Join("/srv/talks", ".temp") {
		t.Errorf("upload dir = %q", cfg.UploadDir)
	}

	cfg = FilesConfig{Root: "/srv/talks", UploadDir: "/tmp/up", HashWorkers: 2}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.UploadDir != "/tmp/up" {
		t.Errorf("explicit upload dir overwritten: %q", cfg.UploadDir)
	}

	cfg = FilesConfig{Root: "/srv/talks"}
	if err := cfg.Validate(); err == nil {
		t.Error("zero hash workers should fail")
	}
}

func TestScheduleConfig_Interval(t *testing.T) {
	cfg := ScheduleConfig{URLs: []string{"https://example.org/schedule.json"}, RemoteUpdateInterval: 10 * time.Millisecond}
	if err := cfg.Validate(); err == nil {
		t.Error("sub-second interval should fail")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TALKDROP_TEST_URLS", "a.json,https://example.org/b.json")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9000
files:
  root: /srv/talks
schedule:
  urls: ["${TALKDROP_TEST_URLS}"]
  remote_update_interval: 1m
auth:
  mode: token
  token: s3cret
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.LoadOptional(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9000 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Schedule.RemoteUpdateInterval != time.Minute || cfg.Schedule.LocalDebounce != 200*time.Millisecond {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	if len(cfg.Schedule.URLs) != 1 || cfg.Schedule.URLs[0] != "a.json,https://example.org/b.json" {
		t.Errorf("urls = %q", cfg.Schedule.URLs)
	}
	if cfg.Files.UploadDir != filepath.Join("/srv/talks", ".temp") || cfg.Files.HashWorkers != 4 {
		t.Errorf("files = %+v", cfg.Files)
	}
	if !cfg.Auth.AuthEnabled() {
		t.Error("auth should be enabled")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Schedule.URLs = []string{"schedule.json"}
	if err := pkgconfig.LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), cfg); err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Files.UploadDir == "" {
		t.Error("defaults were not validated")
	}
}
