// Package config loads the haptics tester configuration. Values are layered:
// built-in defaults, an optional YAML file, HAPTICS_* environment variables,
// then command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// Config is the complete tool configuration.
type Config struct {
	Mode     string `yaml:"mode" env:"HAPTICS_MODE"`
	Runtime  string `yaml:"runtime" env:"HAPTICS_RUNTIME"`
	Manifest string `yaml:"manifest" env:"HAPTICS_MANIFEST"`

	Actions ActionsConfig `yaml:"actions" envPrefix:"HAPTICS_ACTIONS_"`
	Pulse   PulseConfig   `yaml:"pulse" envPrefix:"HAPTICS_PULSE_"`
	OSC     OSCConfig     `yaml:"osc" envPrefix:"HAPTICS_OSC_"`
	BLE     BLEConfig     `yaml:"ble" envPrefix:"HAPTICS_BLE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"HAPTICS_LOG_"`
	OTel    OTelConfig    `yaml:"otel" envPrefix:"HAPTICS_OTEL_"`
}

// ActionsConfig names the action manifest resources.
type ActionsConfig struct {
	ActionSet   string `yaml:"actionSet" env:"SET"`
	Vibration   string `yaml:"vibration" env:"VIBRATION"`
	LeftSource  string `yaml:"leftSource" env:"LEFT_SOURCE"`
	RightSource string `yaml:"rightSource" env:"RIGHT_SOURCE"`
}

// PulseConfig holds the legacy repeater defaults.
type PulseConfig struct {
	Axis           uint32 `yaml:"axis" env:"AXIS"`
	DurationMicros uint16 `yaml:"durationMicros" env:"DURATION_MICROS"`
	IntervalMillis uint32 `yaml:"intervalMillis" env:"INTERVAL_MILLIS"`
}

// OSCConfig configures the OSC bridge runtime.
type OSCConfig struct {
	Addr   string `yaml:"addr" env:"ADDR"`
	Listen string `yaml:"listen" env:"LISTEN"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// BLEConfig configures the BLE device runtime.
type BLEConfig struct {
	Left              string        `yaml:"left" env:"LEFT"`
	Right             string        `yaml:"right" env:"RIGHT"`
	LeftEnabled       bool          `yaml:"leftEnabled" env:"LEFT_ENABLED"`
	RightEnabled      bool          `yaml:"rightEnabled" env:"RIGHT_ENABLED"`
	Service           string        `yaml:"service" env:"SERVICE"`
	Characteristic    string        `yaml:"characteristic" env:"CHARACTERISTIC"`
	ReconnectDelay    time.Duration `yaml:"reconnectDelay" env:"RECONNECT_DELAY"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"HEARTBEAT_INTERVAL"`
	SendTimeout       time.Duration `yaml:"sendTimeout" env:"SEND_TIMEOUT"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"maxSizeMb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"MAX_AGE_DAYS"`
	Verbose    bool   `yaml:"verbose" env:"VERBOSE"`
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
}

var (
	validModes    = []string{"action", "pulse"}
	validRuntimes = []string{"sim", "osc", "ble"}
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:     "action",
		Runtime:  "sim",
		Manifest: "actions.json",
		Actions: ActionsConfig{
			ActionSet:   "/actions/default",
			Vibration:   "/actions/default/in/HapticVibration",
			LeftSource:  "/user/hand/left",
			RightSource: "/user/hand/right",
		},
		Pulse: PulseConfig{
			Axis:           0,
			DurationMicros: 1000,
			IntervalMillis: 1000,
		},
		OSC: OSCConfig{
			Addr:   "127.0.0.1:9002",
			Prefix: "/haptics",
		},
		BLE: BLEConfig{
			LeftEnabled:       true,
			RightEnabled:      true,
			Service:           "0000ab00-0000-1000-8000-00805f9b34fb",
			Characteristic:    "0000ab01-0000-1000-8000-00805f9b34fb",
			ReconnectDelay:    5 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			SendTimeout:       time.Second,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		OTel: OTelConfig{
			Enabled: true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by -config
// or HAPTICS_CONFIG, the environment and finally args.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	path := configPath(args)
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var ignored string
	fs.StringVar(&ignored, "config", path, "path to a YAML config file")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "command grammar: action (one-shot vibrations) or pulse (repeating legacy pulses)")
	fs.StringVar(&cfg.Runtime, "runtime", cfg.Runtime, "haptic runtime backend: sim, osc or ble")
	fs.StringVar(&cfg.Manifest, "manifest", cfg.Manifest, "action manifest path, relative to the working directory")
	fs.StringVar(&cfg.OSC.Addr, "osc-addr", cfg.OSC.Addr, "OSC bridge address")
	fs.StringVar(&cfg.OSC.Listen, "osc-listen", cfg.OSC.Listen, "UDP address to receive device presence updates on")
	fs.StringVar(&cfg.BLE.Left, "ble-left", cfg.BLE.Left, "BLE address of the left hand device")
	fs.StringVar(&cfg.BLE.Right, "ble-right", cfg.BLE.Right, "BLE address of the right hand device")
	fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "write diagnostics to a rotating log file")
	fs.BoolVar(&cfg.Log.Verbose, "verbose", cfg.Log.Verbose, "enable verbose diagnostics")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// configPath finds -config/--config in args before flags are parsed, falling
// back to HAPTICS_CONFIG.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("HAPTICS_CONFIG")
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks cfg for values the tool cannot run with.
func Validate(cfg *Config) error {
	if !contains(validModes, cfg.Mode) {
		return fmt.Errorf("invalid mode %q, must be one of: %v", cfg.Mode, validModes)
	}
	if !contains(validRuntimes, cfg.Runtime) {
		return fmt.Errorf("invalid runtime %q, must be one of: %v", cfg.Runtime, validRuntimes)
	}
	if cfg.Mode == "action" {
		if cfg.Manifest == "" {
			return fmt.Errorf("manifest path is required in action mode")
		}
		for name, v := range map[string]string{
			"actions.actionSet":   cfg.Actions.ActionSet,
			"actions.vibration":   cfg.Actions.Vibration,
			"actions.leftSource":  cfg.Actions.LeftSource,
			"actions.rightSource": cfg.Actions.RightSource,
		} {
			if v == "" {
				return fmt.Errorf("%s must not be empty", name)
			}
		}
	}
	switch cfg.Runtime {
	case "osc":
		if cfg.OSC.Addr == "" {
			return fmt.Errorf("osc.addr is required for the osc runtime")
		}
		if !strings.HasPrefix(cfg.OSC.Prefix, "/") {
			return fmt.Errorf("osc.prefix %q must start with /", cfg.OSC.Prefix)
		}
	case "ble":
		if cfg.BLE.Left == "" && cfg.BLE.Right == "" {
			return fmt.Errorf("ble runtime needs at least one of ble.left or ble.right")
		}
		if cfg.BLE.ReconnectDelay <= 0 || cfg.BLE.HeartbeatInterval <= 0 || cfg.BLE.SendTimeout <= 0 {
			return fmt.Errorf("ble intervals must be positive")
		}
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
