package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture/pipewire"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	cfg := m.Get()
	if cfg.AppName != AppName || cfg.Region.MinWidth != 100 || cfg.Region.WarnFraction != 0.05 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Stream.Backend != "gst" || cfg.IPC.DialAttempts != 3 {
		t.Fatalf("defaults = %+v", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "query_timeout: 2s") {
		t.Fatalf("durations not written as strings:\n%s", data)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "log_level: debug\nstream:\n  backend: subprocess\nportal:\n  timeout: 45s\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.LogLevel != "debug" || cfg.Stream.Backend != "subprocess" || cfg.Portal.Timeout != 45*time.Second {
		t.Fatalf("loaded = %+v", cfg)
	}
	if cfg.Stream.QueueDepth != 4 || cfg.Portal.CursorMode != "embedded" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  backend: ffmpeg\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("invalid backend accepted")
	}
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	for key, value := range map[string]string{
		"control_port":        "9090",
		"ipc.query_timeout":   "3s",
		"region.min_width":    "64",
		"log_pretty":          "true",
		"output_dir":          "/tmp/rec",
		"portal.persist_mode": "application",
	} {
		if err := m.Set(key, value); err != nil {
			t.Fatalf("Set(%s, %s): %v", key, value, err)
		}
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := reloaded.Get()
	if cfg.ControlPort != 9090 || cfg.IPC.QueryTimeout != 3*time.Second || cfg.Region.MinWidth != 64 {
		t.Fatalf("reloaded = %+v", cfg)
	}
	if !cfg.LogPretty || cfg.OutputDir != "/tmp/rec" || cfg.Portal.PersistMode != "application" {
		t.Fatalf("reloaded = %+v", cfg)
	}
}

func TestSetRejects(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"no_such_key":          "1",
		"stream.nope":          "1",
		"stream.backend":       "ffmpeg",
		"portal.cursor_mode":   "sparkly",
		"control_port":         "not-a-number",
		"region.warn_fraction": "2",
		"preview.fps":          "0",
		"preview.quality":      "101",
	}
	for key, value := range cases {
		if err := m.Set(key, value); err == nil {
			t.Errorf("Set(%s, %s) accepted", key, value)
		}
	}
	if m.Get().Stream.Backend != "gst" {
		t.Fatal("rejected Set changed the config")
	}
}

func TestEnvOverridesWithoutPersisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("SCREENREC_STREAM_BACKEND", "subprocess")
	t.Setenv("SCREENREC_PORTAL_TIMEOUT", "5s")
	t.Setenv("SCREENREC_PREVIEW_ENABLED", "false")

	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := m.Get()
	if cfg.Stream.Backend != "subprocess" || cfg.Portal.Timeout != 5*time.Second {
		t.Fatalf("effective = %+v", cfg)
	}
	if cfg.Preview.Enabled {
		t.Fatal("preview override ignored")
	}
	if m.File().Stream.Backend != "gst" || !m.File().Preview.Enabled {
		t.Fatal("override leaked into the file config")
	}
}

func TestPortalOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Portal.CursorMode = "metadata"
	cfg.Portal.PersistMode = "session"
	cfg.Portal.TokenPath = "/tmp/token"
	opts := cfg.PortalOptions()
	if opts.CursorMode != pipewire.CursorModeMetadata || opts.PersistMode != pipewire.PersistModeSession {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.TokenPath != "/tmp/token" || opts.Timeout != pipewire.DefaultPortalTimeout {
		t.Fatalf("opts = %+v", opts)
	}

	limits := cfg.Limits()
	if limits.MinWidth != 100 || limits.MinHeight != 100 || limits.WarnFraction != 0.05 {
		t.Fatalf("limits = %+v", limits)
	}
}
