package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB0
signal_table: config/can/bus.dbc
timing:
  send_period: 50ms
remote:
  system_id: 7
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Timing.SendPeriod != 50*time.Millisecond {
		t.Fatalf("send_period = %s", cfg.Timing.SendPeriod)
	}
	if cfg.Timing.HeartbeatPeriod != time.Second || cfg.Timing.AliveTimeout != 2*time.Second {
		t.Fatalf("unexpected timing defaults %+v", cfg.Timing)
	}
	if cfg.Serial.Baud != 115200 || cfg.Serial.ReadTimeout != 20*time.Millisecond {
		t.Fatalf("unexpected serial defaults %+v", cfg.Serial)
	}
	if cfg.UDP.Addr != "127.0.0.1:9870" {
		t.Fatalf("udp addr = %s", cfg.UDP.Addr)
	}
	if cfg.Snapshot != "hold" || cfg.Codec != "msgpack" {
		t.Fatalf("snapshot %q codec %q", cfg.Snapshot, cfg.Codec)
	}

	bc := cfg.bridgeConfig()
	if bc.RemoteSystemID != 7 || bc.LocalSystemID != 255 || bc.LocalComponentID != 190 {
		t.Fatalf("unexpected identities %+v", bc)
	}
	if bc.Heartbeat.Type != 6 || bc.Heartbeat.Autopilot != 8 || !bc.SurfaceRemoteHeartbeat {
		t.Fatalf("unexpected heartbeat config %+v", bc.Heartbeat)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB0
  baud: 57600
signal_table: bus.dbc
codec: msgpack
`)
	var v flagValues
	fs := newFlagSet(&v)
	if err := fs.Parse([]string{"--config", path, "--port", "/dev/ttyACM1", "--codec", "cbor", "--snapshot-policy", "clear"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := LoadConfig(v.config)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.applyFlags(fs, &v)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyACM1" || cfg.Codec != "cbor" || cfg.Snapshot != "clear" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	// Unset flags must not clobber file values with their defaults.
	if cfg.Serial.Baud != 57600 {
		t.Fatalf("baud = %d, want the file value", cfg.Serial.Baud)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Serial.Port = "" }, "serial.port"},
		{"missing table", func(c *Config) { c.SignalTable = "" }, "signal_table"},
		{"bad policy", func(c *Config) { c.Snapshot = "sometimes" }, "snapshot policy"},
		{"bad codec", func(c *Config) { c.Codec = "json" }, "codec"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"negative period", func(c *Config) { c.Timing.SendPeriod = -time.Millisecond }, "timing.send_period"},
		{"slow read", func(c *Config) { c.Serial.ReadTimeout = 2 * time.Second }, "read_timeout"},
		{"influx without db", func(c *Config) { c.Influx.Host = "http://localhost:8181" }, "influxdb.database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Serial: SerialConfig{Port: "/dev/ttyUSB0"}, SignalTable: "bus.dbc"}
			cfg.applyDefaults()
			tt.mutate(cfg)
			err := cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "serial: [unclosed")); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
	cfg, err := LoadConfig("")
	if err != nil || cfg == nil {
		t.Fatalf("empty path should yield a zero config: %v", err)
	}
}
