// Package config provides configuration management for the backtester.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chokli/nifty-backtest/internal/models"
)

const (
	// StrikeStep is the strike grid spacing of the underlying's option
	// chain, in index points. NIFTY quotes weekly strikes every 50 points.
	StrikeStep = 50

	// defaultFeedTimeout is used when feed.timeout is unset
	defaultFeedTimeout = 30 * time.Second
	// defaultOptionsPrefix is used when feed.options_prefix is unset
	defaultOptionsPrefix = "nifty_options"
	// defaultSpotPrefix is used when feed.spot_prefix is unset
	defaultSpotPrefix = "nifty_spot"
)

// ErrUnknownStrategy is returned when a strategy name has no entry in the
// strategies section.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig          `yaml:"environment"`
	Feed        FeedConfig                 `yaml:"feed"`
	Output      OutputConfig               `yaml:"output"`
	Strategies  map[string]*StrategyConfig `yaml:"strategies"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// FeedConfig defines the candle object-store endpoint.
type FeedConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	OptionsPrefix string `yaml:"options_prefix"`
	SpotPrefix    string `yaml:"spot_prefix"`
	Timeout       string `yaml:"timeout"`
}

// OutputConfig defines where batch results are written.
type OutputConfig struct {
	ResultsPath string `yaml:"results_path"`
	CSVPath     string `yaml:"csv_path"`
}

// LegSpec describes one leg of a multi-leg position: which side to sell and
// how many strike steps away from ATM. OTMSteps of 0 sells the ATM strike.
type LegSpec struct {
	Right    string `yaml:"right"`
	OTMSteps int    `yaml:"otm_steps"`
}

// StrategyConfig defines one named intraday strategy.
//
// StopLoss and Target are fractions of the entry premium: stop_loss 0.30
// places the stop 30% above entry, target 0.20 places the target 20% below.
// Target and MaxLoss are optional; leaving them unset disables the
// corresponding exit. MaxLoss is in absolute currency units.
type StrategyConfig struct {
	Legs         []LegSpec `yaml:"legs"`
	EntryTime    string    `yaml:"entry_time"` // "HH:MM"
	ExitTime     string    `yaml:"exit_time"`  // "HH:MM"
	StopLoss     float64   `yaml:"stop_loss"`
	Target       *float64  `yaml:"target"`
	ReentryOnSL  bool      `yaml:"reentry_on_sl"`
	MaxReentries int       `yaml:"max_reentries"`
	MaxLoss      *float64  `yaml:"max_loss"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Strategy returns the named strategy configuration.
func (c *Config) Strategy(name string) (*StrategyConfig, error) {
	s, ok := c.Strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug|info|warn|error")
	}

	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.Feed.Timeout != "" {
		if _, err := time.ParseDuration(c.Feed.Timeout); err != nil {
			return fmt.Errorf("feed.timeout invalid: %w", err)
		}
	}
	if c.Feed.OptionsPrefix == "" {
		c.Feed.OptionsPrefix = defaultOptionsPrefix
	}
	if c.Feed.SpotPrefix == "" {
		c.Feed.SpotPrefix = defaultSpotPrefix
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy must be configured")
	}
	for name, s := range c.Strategies {
		if err := s.validate(); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
	}

	return nil
}

func (s *StrategyConfig) validate() error {
	if len(s.Legs) == 0 {
		return fmt.Errorf("legs must not be empty")
	}
	for i, leg := range s.Legs {
		if _, err := models.ParseRight(leg.Right); err != nil {
			return fmt.Errorf("legs[%d]: %w", i, err)
		}
	}

	entry, err := time.Parse("15:04", s.EntryTime)
	if err != nil {
		return fmt.Errorf("entry_time invalid: %w", err)
	}
	exit, err := time.Parse("15:04", s.ExitTime)
	if err != nil {
		return fmt.Errorf("exit_time invalid: %w", err)
	}
	if !entry.Before(exit) {
		return fmt.Errorf("entry_time (%s) must be before exit_time (%s)", s.EntryTime, s.ExitTime)
	}

	if s.StopLoss <= 0 {
		return fmt.Errorf("stop_loss must be > 0")
	}
	if s.Target != nil && (*s.Target <= 0 || *s.Target >= 1) {
		return fmt.Errorf("target must be in (0,1)")
	}
	if s.MaxReentries < 0 {
		return fmt.Errorf("max_reentries must be >= 0")
	}
	if s.MaxLoss != nil && *s.MaxLoss <= 0 {
		return fmt.Errorf("max_loss must be > 0")
	}

	return nil
}

// AtOrAfterEntry reports whether t's time of day falls at or after the
// configured entry time. Only the wall-clock minute matters; the date part
// of t is ignored.
func (s *StrategyConfig) AtOrAfterEntry(t time.Time) bool {
	entry, err := time.Parse("15:04", s.EntryTime)
	if err != nil {
		return false
	}
	return t.Hour() > entry.Hour() ||
		(t.Hour() == entry.Hour() && t.Minute() >= entry.Minute())
}

// GetFeedTimeout returns the configured feed fetch timeout.
func (c *Config) GetFeedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Feed.Timeout)
	if err != nil || d <= 0 {
		return defaultFeedTimeout
	}
	return d
}
