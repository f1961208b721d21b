package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadAppConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Transport != "bluez" {
		t.Fatalf("unexpected transport: %q", cfg.Transport)
	}
	if cfg.Adapter != "hci0" {
		t.Fatalf("unexpected adapter: %q", cfg.Adapter)
	}
	if cfg.Profile.ServiceUUID != "6e400001-b5a3-f393-e0a9-e50e24dcca9e" {
		t.Fatalf("unexpected service uuid: %q", cfg.Profile.ServiceUUID)
	}
	if cfg.Session.ResponseTimeout != time.Second {
		t.Fatalf("unexpected response timeout: %v", cfg.Session.ResponseTimeout)
	}
	if cfg.HistoryPath != "" {
		t.Fatalf("unexpected history path: %q", cfg.HistoryPath)
	}
}

func TestLoadAppConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
transport = "bridge"
bridge_addr = "127.0.0.1:9999"
device_id = "AA:BB:CC:DD:EE:FF"
service_uuid = "0000aaaa-0000-1000-8000-00805f9b34fb"
scan_timeout = "3s"
response_timeout = "250ms"
reset_settle = "1.5s"
history_path = "lens.db"
status_addr = ":7070"
cors_origins = ["http://localhost:5173", " ", "https://lens.example"]
`)

	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Transport != "bridge" {
		t.Fatalf("unexpected transport: %q", cfg.Transport)
	}
	if cfg.BridgeAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected bridge addr: %q", cfg.BridgeAddr)
	}
	if cfg.Session.DeviceID != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected device id: %q", cfg.Session.DeviceID)
	}
	if cfg.Profile.ServiceUUID != "0000aaaa-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("unexpected service uuid: %q", cfg.Profile.ServiceUUID)
	}
	// Keys the file does not define keep their defaults.
	if cfg.Profile.CommandUUID != "6e400002-b5a3-f393-e0a9-e50e24dcca9e" {
		t.Fatalf("unexpected command uuid: %q", cfg.Profile.CommandUUID)
	}
	if cfg.Session.ScanTimeout != 3*time.Second {
		t.Fatalf("unexpected scan timeout: %v", cfg.Session.ScanTimeout)
	}
	if cfg.Session.ResponseTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected response timeout: %v", cfg.Session.ResponseTimeout)
	}
	if cfg.Session.ResetSettle != 1500*time.Millisecond {
		t.Fatalf("unexpected reset settle: %v", cfg.Session.ResetSettle)
	}
	if cfg.Session.ConnectTimeout != 10*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.Session.ConnectTimeout)
	}
	if cfg.HistoryPath != "lens.db" {
		t.Fatalf("unexpected history path: %q", cfg.HistoryPath)
	}
	if cfg.StatusAddr != ":7070" {
		t.Fatalf("unexpected status addr: %q", cfg.StatusAddr)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://localhost:5173" || cfg.CORSOrigins[1] != "https://lens.example" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
}

func TestLoadAppConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `
scan_timeout = "abc"
`)
	if _, err := loadAppConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestBuildTransportUnknown(t *testing.T) {
	cfg := defaultAppConfig()
	cfg.Transport = "serial"
	if _, err := buildTransport(cfg); err == nil {
		t.Fatalf("expected unsupported transport error")
	}
}
