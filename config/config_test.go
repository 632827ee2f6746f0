package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Mode != "action" || cfg.Runtime != "sim" {
		t.Errorf("unexpected mode/runtime %q/%q", cfg.Mode, cfg.Runtime)
	}
	if cfg.Manifest != "actions.json" {
		t.Errorf("manifest = %q, want actions.json", cfg.Manifest)
	}
	if cfg.Actions.Vibration != "/actions/default/in/HapticVibration" {
		t.Errorf("vibration action = %q", cfg.Actions.Vibration)
	}
	if cfg.Pulse.DurationMicros != 1000 || cfg.Pulse.IntervalMillis != 1000 {
		t.Errorf("repeat defaults = %d/%d, want 1000/1000", cfg.Pulse.DurationMicros, cfg.Pulse.IntervalMillis)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HAPTICS_CONFIG", "")
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "action" {
		t.Errorf("mode = %q, want action", cfg.Mode)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "haptics.yaml")
	data := `
mode: pulse
runtime: osc
osc:
  addr: 10.0.0.5:9100
  prefix: /bridge
pulse:
  intervalMillis: 250
ble:
  reconnectDelay: 7s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HAPTICS_CONFIG", "")
	t.Setenv("HAPTICS_PULSE_INTERVAL_MILLIS", "500")
	t.Setenv("HAPTICS_OSC_ADDR", "10.0.0.6:9100")

	cfg, err := Load(newFlagSet(), []string{"-config", path, "-osc-addr", "10.0.0.7:9100"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "pulse" || cfg.Runtime != "osc" {
		t.Errorf("file values not applied: %q/%q", cfg.Mode, cfg.Runtime)
	}
	if cfg.OSC.Prefix != "/bridge" {
		t.Errorf("prefix = %q, want /bridge", cfg.OSC.Prefix)
	}
	if cfg.Pulse.IntervalMillis != 500 {
		t.Errorf("interval = %d, want env override 500", cfg.Pulse.IntervalMillis)
	}
	if cfg.OSC.Addr != "10.0.0.7:9100" {
		t.Errorf("addr = %q, want flag override", cfg.OSC.Addr)
	}
	if cfg.BLE.ReconnectDelay != 7*time.Second {
		t.Errorf("reconnect delay = %v, want 7s", cfg.BLE.ReconnectDelay)
	}
	if cfg.Pulse.DurationMicros != 1000 {
		t.Errorf("duration = %d, want default 1000", cfg.Pulse.DurationMicros)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("mode: pulse\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HAPTICS_CONFIG", path)

	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "pulse" {
		t.Errorf("mode = %q, want pulse", cfg.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("HAPTICS_CONFIG", "")
	_, err := Load(newFlagSet(), []string{"--config=" + filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("moed: pulse\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HAPTICS_CONFIG", "")
	if _, err := Load(newFlagSet(), []string{"-config", path}); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadEnvError(t *testing.T) {
	t.Setenv("HAPTICS_CONFIG", "")
	t.Setenv("HAPTICS_PULSE_DURATION_MICROS", "70000")

	_, err := Load(newFlagSet(), nil)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "legacy" }},
		{"unknown runtime", func(c *Config) { c.Runtime = "steamvr" }},
		{"empty manifest", func(c *Config) { c.Manifest = "" }},
		{"empty source", func(c *Config) { c.Actions.LeftSource = "" }},
		{"osc without addr", func(c *Config) { c.Runtime = "osc"; c.OSC.Addr = "" }},
		{"osc bad prefix", func(c *Config) { c.Runtime = "osc"; c.OSC.Prefix = "haptics" }},
		{"ble without devices", func(c *Config) { c.Runtime = "ble" }},
		{"ble zero timeout", func(c *Config) { c.Runtime = "ble"; c.BLE.Left = "AA:BB:CC:DD:EE:FF"; c.BLE.SendTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidatePulseModeSkipsActionNames(t *testing.T) {
	cfg := Default()
	cfg.Mode = "pulse"
	cfg.Manifest = ""
	cfg.Actions = ActionsConfig{}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config=b.yaml", "-mode", "pulse"}, "b.yaml"},
		{[]string{"-mode", "pulse"}, ""},
		{[]string{"--", "-config", "c.yaml"}, ""},
	}
	t.Setenv("HAPTICS_CONFIG", "")

	for _, tt := range tests {
		if got := configPath(tt.args); got != tt.want {
			t.Errorf("configPath(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestLoadBLEEnabled(t *testing.T) {
	t.Setenv("HAPTICS_CONFIG", "")
	t.Setenv("HAPTICS_BLE_RIGHT_ENABLED", "false")

	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.BLE.LeftEnabled || cfg.BLE.RightEnabled {
		t.Errorf("enabled = %v/%v, want true/false", cfg.BLE.LeftEnabled, cfg.BLE.RightEnabled)
	}
}
