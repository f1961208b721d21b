package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dvrsch/lensctl/internal/session"
	"github.com/dvrsch/lensctl/internal/transport"
)

type appConfig struct {
	Transport   string
	Adapter     string
	BridgeAddr  string
	Profile     transport.BLEProfile
	HistoryPath string
	StatusAddr  string
	CORSOrigins []string
	Session     session.Config
}

func defaultAppConfig() appConfig {
	return appConfig{
		Transport:  "bluez",
		Adapter:    "hci0",
		BridgeAddr: "127.0.0.1:9556",
		Profile:    transport.DefaultBLEProfile(),
		Session:    session.DefaultConfig(),
	}
}

type fileConfig struct {
	Transport       string   `toml:"transport"`
	Adapter         string   `toml:"adapter"`
	BridgeAddr      string   `toml:"bridge_addr"`
	DeviceID        string   `toml:"device_id"`
	NamePrefix      string   `toml:"name_prefix"`
	ServiceUUID     string   `toml:"service_uuid"`
	CommandUUID     string   `toml:"command_uuid"`
	ResponseUUID    string   `toml:"response_uuid"`
	ScanTimeout     string   `toml:"scan_timeout"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	ResolveTimeout  string   `toml:"resolve_timeout"`
	ResponseTimeout string   `toml:"response_timeout"`
	BreakSettle     string   `toml:"break_settle"`
	ResetSettle     string   `toml:"reset_settle"`
	HistoryPath     string   `toml:"history_path"`
	StatusAddr      string   `toml:"status_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// loadAppConfig starts from defaults and applies only the keys the
// file actually defines. An empty path means defaults.
func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load lensctl config: %w", err)
	}

	setString := func(key string, dst *string, val string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(val)
		}
	}
	setString("transport", &cfg.Transport, raw.Transport)
	setString("adapter", &cfg.Adapter, raw.Adapter)
	setString("bridge_addr", &cfg.BridgeAddr, raw.BridgeAddr)
	setString("device_id", &cfg.Session.DeviceID, raw.DeviceID)
	setString("name_prefix", &cfg.Session.NamePrefix, raw.NamePrefix)
	setString("service_uuid", &cfg.Profile.ServiceUUID, raw.ServiceUUID)
	setString("command_uuid", &cfg.Profile.CommandUUID, raw.CommandUUID)
	setString("response_uuid", &cfg.Profile.ResponseUUID, raw.ResponseUUID)
	setString("history_path", &cfg.HistoryPath, raw.HistoryPath)
	setString("status_addr", &cfg.StatusAddr, raw.StatusAddr)

	setDuration := func(key string, dst *time.Duration, val string) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	durations := []struct {
		key string
		dst *time.Duration
		val string
	}{
		{"scan_timeout", &cfg.Session.ScanTimeout, raw.ScanTimeout},
		{"connect_timeout", &cfg.Session.ConnectTimeout, raw.ConnectTimeout},
		{"resolve_timeout", &cfg.Session.ResolveTimeout, raw.ResolveTimeout},
		{"response_timeout", &cfg.Session.ResponseTimeout, raw.ResponseTimeout},
		{"break_settle", &cfg.Session.BreakSettle, raw.BreakSettle},
		{"reset_settle", &cfg.Session.ResetSettle, raw.ResetSettle},
	}
	for _, d := range durations {
		if err := setDuration(d.key, d.dst, d.val); err != nil {
			return appConfig{}, err
		}
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// buildTransport picks the link layer named by the config.
func buildTransport(cfg appConfig) (transport.Transport, error) {
	switch cfg.Transport {
	case "bluez":
		return transport.NewBlueZ(cfg.Adapter, cfg.Profile), nil
	case "bridge":
		return transport.NewBridge(cfg.BridgeAddr), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (supported: bluez, bridge)", cfg.Transport)
	}
}
