package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/tabclock/go/internal/busconfig"
	"github.com/mcdev12/tabclock/go/internal/tabclock/coordinator"
	"github.com/mcdev12/tabclock/go/internal/tabclock/tone"
)

type Config struct {
	LogLevel string `yaml:"log_level"`
	Port     string `yaml:"port"`

	Interval   time.Duration `yaml:"interval"`
	Use24Hour  bool          `yaml:"use_24h"`
	ShowBorder bool          `yaml:"show_border"`
	Timezone   string        `yaml:"timezone"`
	Volume     float64       `yaml:"volume"`
	Sound      bool          `yaml:"sound"`
	Terminal   bool          `yaml:"terminal"`
	Embedded   bool          `yaml:"embedded"`

	// Tabs > 1 runs simulated tabs in one process on the memory bus.
	Tabs int `yaml:"tabs"`

	Bus busconfig.Config `yaml:"bus"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Port:     "8090",
		Interval: coordinator.DefaultInterval,
		Volume:   tone.DefaultVolume,
		Sound:    true,
		Terminal: true,
		Tabs:     1,
		Bus:      busconfig.Default(),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig layers defaults, the optional YAML file at path and the
// environment, in that order.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config = config.withEnv()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) withEnv() Config {
	c.LogLevel = getEnv("TABCLOCK_LOG_LEVEL", c.LogLevel)
	c.Port = getEnv("PORT", c.Port)
	c.Interval = getEnvAsDuration("TABCLOCK_INTERVAL", c.Interval)
	c.Use24Hour = getEnvAsBool("TABCLOCK_24H", c.Use24Hour)
	c.ShowBorder = getEnvAsBool("TABCLOCK_BORDER", c.ShowBorder)
	c.Timezone = getEnv("TABCLOCK_TZ", c.Timezone)
	c.Volume = getEnvAsFloat("TABCLOCK_VOLUME", c.Volume)
	c.Sound = getEnvAsBool("TABCLOCK_SOUND", c.Sound)
	c.Terminal = getEnvAsBool("TABCLOCK_TERMINAL", c.Terminal)
	c.Embedded = getEnvAsBool("TABCLOCK_EMBEDDED", c.Embedded)
	c.Tabs = getEnvAsInt("TABCLOCK_TABS", c.Tabs)
	c.Bus = c.Bus.WithEnv()
	return c
}

func (c Config) validate() error {
	if c.Interval <= 0 || c.Interval > coordinator.MaxInterval {
		return fmt.Errorf("interval %s: %w", c.Interval, coordinator.ErrInvalidInterval)
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume %.2f must be in [0, 1]", c.Volume)
	}
	if c.Tabs < 1 {
		return fmt.Errorf("tabs must be at least 1, got %d", c.Tabs)
	}
	if c.Tabs > 1 && c.Bus.Kind != "memory" {
		return fmt.Errorf("simulated tabs need the memory bus, got %q", c.Bus.Kind)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// location resolves the display time zone. Empty means the host's zone.
func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
