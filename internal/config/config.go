// Package config loads the taskio command configuration, from an optional
// YAML file, applied on top of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// Executor policy names.
const (
	ExecutorPark  = `park`
	ExecutorSleep = `sleep`
	ExecutorPoll  = `poll`
)

// DefaultRequest is the request written by the run command.
const DefaultRequest = "GET / HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"

type (
	// Config is the complete command configuration.
	Config struct {
		// Address is the "ip:port" the run command connects to.
		Address string `yaml:"address"`
		// Request is written in full before reading the response.
		Request string `yaml:"request"`
		// Executor is one of park, sleep, or poll.
		Executor string `yaml:"executor"`
		// Sleep is the retry interval of the sleep executor.
		Sleep time.Duration `yaml:"sleep"`
		// PollLimit is the maximum polls per second of a run, zero disables.
		PollLimit int `yaml:"poll_limit"`
		// LogLevel is a syslog keyword (e.g. info, debug), or trace.
		LogLevel string `yaml:"log_level"`
		// LogRateLimit caps rate limited log events per second, zero
		// disables.
		LogRateLimit int         `yaml:"log_rate_limit"`
		Serve        ServeConfig `yaml:"serve"`
	}

	// ServeConfig configures the serve command.
	ServeConfig struct {
		Listen string        `yaml:"listen"`
		Delay  time.Duration `yaml:"delay"`
		Body   string        `yaml:"body"`
		// Raw writes Body as-is, rather than as an HTTP response.
		Raw bool `yaml:"raw"`
	}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Address:      `127.0.0.1:3000`,
		Request:      DefaultRequest,
		Executor:     ExecutorPark,
		Sleep:        20 * time.Millisecond,
		LogLevel:     logiface.LevelInformational.String(),
		LogRateLimit: 50,
		Serve: ServeConfig{
			Listen: `127.0.0.1:3000`,
			Delay:  100 * time.Millisecond,
			Body:   `hello`,
		},
	}
}

// Load reads the YAML file at path over Default. An empty path returns
// Default. The result is validated.
func Load(path string) (*Config, error) {
	if path == `` {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads YAML from r over Default, rejecting unknown fields. The
// result is validated.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c := Default()
	if len(bytes.TrimSpace(data)) != 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return nil, fmt.Errorf("config: decode: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	if _, err := netip.ParseAddrPort(c.Address); err != nil {
		return fmt.Errorf("config: address %q: %w", c.Address, err)
	}
	switch c.Executor {
	case ExecutorPark, ExecutorSleep, ExecutorPoll:
	default:
		return fmt.Errorf("config: unknown executor %q", c.Executor)
	}
	if c.Sleep <= 0 {
		return fmt.Errorf("config: sleep must be positive, got %s", c.Sleep)
	}
	if c.PollLimit < 0 {
		return fmt.Errorf("config: negative poll_limit %d", c.PollLimit)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogRateLimit < 0 {
		return fmt.Errorf("config: negative log_rate_limit %d", c.LogRateLimit)
	}
	if _, err := netip.ParseAddrPort(c.Serve.Listen); err != nil {
		return fmt.Errorf("config: serve.listen %q: %w", c.Serve.Listen, err)
	}
	if c.Serve.Delay < 0 {
		return fmt.Errorf("config: negative serve.delay %s", c.Serve.Delay)
	}
	return nil
}

// Level returns the parsed LogLevel, which must be valid.
func (c *Config) Level() logiface.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// ParseLevel converts a level keyword, as printed by [logiface.Level.String],
// to a level. The deprecated syslog keywords error and warn are accepted.
func ParseLevel(s string) (logiface.Level, error) {
	switch s {
	case `error`:
		return logiface.LevelError, nil
	case `warn`:
		return logiface.LevelWarning, nil
	}
	for lvl := logiface.LevelDisabled; lvl <= logiface.LevelTrace; lvl++ {
		if lvl.String() == s {
			return lvl, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("config: unknown log level %q", s)
}
