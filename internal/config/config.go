package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"gantry/pkg/logging"
)

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "2m" instead of nanosecond integers.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the host configuration: everything about how gantry itself
// runs, as opposed to what it runs (the application definition).
type Config struct {
	// ControlAddress is the listen address of the control-plane API.
	ControlAddress string `yaml:"controlAddress,omitempty"`
	// BasePort is where sequential dynamic port scanning starts.
	BasePort int `yaml:"basePort,omitempty"`
	// RandomizePorts makes the allocator take kernel-assigned ports
	// instead of scanning from BasePort. Useful for parallel instances.
	RandomizePorts bool `yaml:"randomizePorts,omitempty"`
	// StartupTimeout bounds how long the whole application may take to
	// become ready before startup is declared failed.
	StartupTimeout Duration `yaml:"startupTimeout,omitempty"`
	// StopGrace is the per-resource window between a graceful stop
	// request and the forced kill.
	StopGrace Duration `yaml:"stopGrace,omitempty"`
	// HealthInterval is the default probe interval for health checks
	// that do not declare their own.
	HealthInterval Duration `yaml:"healthInterval,omitempty"`
	// HistorySize bounds the per-resource log replay buffer.
	HistorySize int `yaml:"historySize,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		ControlAddress: "localhost:4317",
		BasePort:       20000,
		StartupTimeout: Duration(5 * time.Minute),
		StopGrace:      Duration(10 * time.Second),
		HealthInterval: Duration(1 * time.Second),
		HistorySize:    512,
		LogLevel:       "info",
	}
}

// Load reads the host configuration from path, layered over Default and
// under GANTRY_* environment overrides. A missing file is not an error;
// a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "no config file at %s, using defaults", path)
	case err != nil:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
		logging.Info("Config", "loaded configuration from %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers GANTRY_* variables over the file values. Environment
// wins because it is the per-invocation knob.
func (c *Config) applyEnv() error {
	if v := os.Getenv("GANTRY_CONTROL_ADDRESS"); v != "" {
		c.ControlAddress = v
	}
	if v := os.Getenv("GANTRY_BASE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GANTRY_BASE_PORT: %w", err)
		}
		c.BasePort = port
	}
	if v := os.Getenv("GANTRY_RANDOMIZE_PORTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GANTRY_RANDOMIZE_PORTS: %w", err)
		}
		c.RandomizePorts = b
	}
	if v := os.Getenv("GANTRY_STARTUP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GANTRY_STARTUP_TIMEOUT: %w", err)
		}
		c.StartupTimeout = Duration(d)
	}
	if v := os.Getenv("GANTRY_STOP_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GANTRY_STOP_GRACE: %w", err)
		}
		c.StopGrace = Duration(d)
	}
	if v := os.Getenv("GANTRY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.BasePort < 1 || c.BasePort > 65535 {
		return fmt.Errorf("basePort %d out of range", c.BasePort)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("historySize must not be negative")
	}
	return nil
}

// Level returns the parsed log level. Unknown values fall back to info.
func (c *Config) Level() logging.LogLevel {
	return logging.ParseLevel(c.LogLevel)
}
