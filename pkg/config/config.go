// Package config loads the TOML configuration of the pico command.
//
// Example:
//
//	identity     = "verifier.key"
//	store        = "pico.db"
//	listen       = ":7440"
//	service_name = "Front Door"
//	advertise    = true
//	log_level    = "info"
//
//	[reauth]
//	interval = "10s"
//	grace    = "5s"
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/logging"
)

// Defaults.
const (
	DefaultIdentity    = "pico.key"
	DefaultStore       = "pico.db"
	DefaultListen      = ":7440"
	DefaultServiceName = "Pico Service"
	DefaultLogLevel    = "info"
	DefaultInterval    = 10 * time.Second
	DefaultGrace       = 5 * time.Second
)

// ErrInvalidConfig is returned for a configuration that fails validation.
var ErrInvalidConfig = errors.New("config: invalid")

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Reauth configures continuous authentication on the verifier.
type Reauth struct {
	// Interval is the time the verifier asks provers to wait between rounds.
	Interval Duration `toml:"interval"`

	// Grace is added to Interval before a silent prover's session fails.
	Grace Duration `toml:"grace"`
}

// Config is the pico command configuration.
type Config struct {
	// Identity is the path of the encrypted identity key file.
	Identity string `toml:"identity"`

	// Store is the path of the bbolt pairing and session database.
	Store string `toml:"store"`

	// Listen is the verifier's TCP listen address.
	Listen string `toml:"listen"`

	// ServiceName is the advertised verifier name.
	ServiceName string `toml:"service_name"`

	// Advertise enables DNS-SD advertisement of the verifier.
	Advertise bool `toml:"advertise"`

	// LogLevel is one of disabled, error, warn, info, debug, trace.
	LogLevel string `toml:"log_level"`

	Reauth Reauth `toml:"reauth"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a TOML file. Keys that match no field are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse decodes a TOML document, applies defaults and validates the result.
func Parse(data string) (*Config, error) {
	c := &Config{}
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Identity == "" {
		c.Identity = DefaultIdentity
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Reauth.Interval.Duration == 0 {
		c.Reauth.Interval.Duration = DefaultInterval
	}
	if c.Reauth.Grace.Duration == 0 {
		c.Reauth.Grace.Duration = DefaultGrace
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Reauth.Interval.Duration < 0 || c.Reauth.Grace.Duration < 0 {
		return fmt.Errorf("%w: reauth durations must not be negative", ErrInvalidConfig)
	}
	if c.Reauth.Interval.Duration < time.Millisecond {
		return fmt.Errorf("%w: reauth interval %s too short", ErrInvalidConfig, c.Reauth.Interval)
	}
	return nil
}

// Level returns the pion log level named by LogLevel.
func (c *Config) Level() (logging.LogLevel, error) {
	switch strings.ToLower(c.LogLevel) {
	case "disabled":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
}

// LoggerFactory returns a pion logger factory at the configured level.
func (c *Config) LoggerFactory() (logging.LoggerFactory, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	return f, nil
}

// Write encodes the configuration as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
