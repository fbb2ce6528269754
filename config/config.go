// Package config loads the GENISYS controller's enumerated configuration
// (spec §6) from file, environment, and defaults via github.com/spf13/viper,
// and validates it at construction the way the teacher's
// session.TCPConfig.check() validates a fixed IEC 60870-5-104 timer set —
// except here validation returns an error instead of panicking, since the
// values arrive from an external file/environment rather than being set in
// Go source.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/betaylor73/wayside"
)

// StationConfig names one slave on the link and where it is reachable.
// Endpoint is opaque to this package: a UDP address, serial device path, or
// similar. cmd/genisysctl does not read it: serve dials the one shared link
// named by its --link-addr flag for every station.
type StationConfig struct {
	Address  wayside.StationAddress `mapstructure:"address" yaml:"address"`
	Endpoint string                 `mapstructure:"endpoint" yaml:"endpoint"`
}

// Config is the enumerated configuration of spec §6. The zero value is not
// valid; use Default or Load to obtain one, or call ApplyDefaults followed
// by Validate on a manually constructed value.
type Config struct {
	ResponseTimeout       time.Duration   `mapstructure:"response_timeout" yaml:"response_timeout"`
	PollMinGap            time.Duration   `mapstructure:"poll_min_gap" yaml:"poll_min_gap"`
	RecallRetryDelay      time.Duration   `mapstructure:"recall_retry_delay" yaml:"recall_retry_delay"`
	ControlCoalesceWindow time.Duration   `mapstructure:"control_coalesce_window" yaml:"control_coalesce_window"`
	SecurePolls           bool            `mapstructure:"secure_polls" yaml:"secure_polls"`
	Stations              []StationConfig `mapstructure:"stations" yaml:"stations"`
	FailThreshold         uint32          `mapstructure:"fail_threshold" yaml:"fail_threshold"`
}

// Default returns the defaults named in spec §6.
func Default() Config {
	return Config{
		ResponseTimeout:       500 * time.Millisecond,
		PollMinGap:            10 * time.Millisecond,
		RecallRetryDelay:      250 * time.Millisecond,
		ControlCoalesceWindow: 50 * time.Millisecond,
		SecurePolls:           false,
		FailThreshold:         wayside.FailThreshold,
	}
}

// ApplyDefaults fills any zero-valued duration/threshold field of c with the
// spec §6 default, leaving explicitly-set fields untouched. Stations and
// SecurePolls have no non-zero default to apply.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.PollMinGap == 0 {
		c.PollMinGap = d.PollMinGap
	}
	if c.RecallRetryDelay == 0 {
		c.RecallRetryDelay = d.RecallRetryDelay
	}
	if c.ControlCoalesceWindow == 0 {
		c.ControlCoalesceWindow = d.ControlCoalesceWindow
	}
	if c.FailThreshold == 0 {
		c.FailThreshold = d.FailThreshold
	}
}

// Validate rejects negative durations, a zero fail threshold, and an empty
// station roster, per spec §6 ("Negative durations are rejected at
// construction"). Call it after ApplyDefaults so an omitted field is never
// mistaken for an explicit negative one.
func (c *Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"response_timeout":        c.ResponseTimeout,
		"poll_min_gap":            c.PollMinGap,
		"recall_retry_delay":      c.RecallRetryDelay,
		"control_coalesce_window": c.ControlCoalesceWindow,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must be >= 0, got %s", name, d)
		}
	}
	if c.FailThreshold == 0 {
		return fmt.Errorf("config: fail_threshold must be non-zero")
	}
	if len(c.Stations) == 0 {
		return fmt.Errorf("config: at least one station is required")
	}
	seen := make(map[wayside.StationAddress]bool, len(c.Stations))
	for _, s := range c.Stations {
		if _, err := wayside.NewStationAddress(int(s.Address)); err != nil {
			return fmt.Errorf("config: station %d: %w", s.Address, err)
		}
		if seen[s.Address] {
			return fmt.Errorf("config: station %d configured more than once", s.Address)
		}
		seen[s.Address] = true
	}
	return nil
}

// StationAddresses returns the configured station roster in configuration
// order, suitable for runtime.New/exec.NewExecutor (the executor sorts its
// own copy).
func (c Config) StationAddresses() []wayside.StationAddress {
	out := make([]wayside.StationAddress, len(c.Stations))
	for i, s := range c.Stations {
		out[i] = s.Address
	}
	return out
}

// Load reads configuration from configPath (YAML, TOML, or any format
// viper supports by extension) overlaid with WAYSIDE_-prefixed environment
// variables, applies defaults, and validates the result. An empty
// configPath loads defaults plus environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAYSIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
