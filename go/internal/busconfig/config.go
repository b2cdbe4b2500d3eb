package busconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/tabclock/go/internal/tabclock/bus"
)

// DefaultGroup is the channel name every tab of a clock shares.
const DefaultGroup = "synchronized-clock-channel"

// Config holds broadcast bus settings.
type Config struct {
	Kind  string `yaml:"kind"`
	Group string `yaml:"group"`

	NATS struct {
		URL           string        `yaml:"url"`
		SubjectPrefix string        `yaml:"subject_prefix"`
		MaxReconnects int           `yaml:"max_reconnects"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"nats"`

	Multicast struct {
		Address   string `yaml:"address"`
		Interface string `yaml:"interface"`
		TTL       int    `yaml:"ttl"`
		Loopback  bool   `yaml:"loopback"`
	} `yaml:"multicast"`
}

// Default returns a multicast configuration, which needs no server.
func Default() Config {
	var c Config
	c.Kind = "multicast"
	c.Group = DefaultGroup

	n := bus.DefaultNATSConfig()
	c.NATS.URL = n.URL
	c.NATS.SubjectPrefix = n.SubjectPrefix
	c.NATS.MaxReconnects = n.MaxReconnects
	c.NATS.ReconnectWait = n.ReconnectWait
	c.NATS.Timeout = n.Timeout

	m := bus.DefaultMulticastConfig()
	c.Multicast.Address = m.Address
	c.Multicast.TTL = m.TTL
	c.Multicast.Loopback = m.Loopback
	return c
}

// NewConfigFromEnv reads TABCLOCK_BUS*, NATS_* and MULTICAST_* environment
// variables (with defaults).
func NewConfigFromEnv() Config {
	return Default().WithEnv()
}

// WithEnv returns c with any set environment variables applied on top.
func (c Config) WithEnv() Config {
	c.Kind = getEnv("TABCLOCK_BUS", c.Kind)
	c.Group = getEnv("TABCLOCK_GROUP", c.Group)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.NATS.MaxReconnects = getEnvAsInt("NATS_MAX_RECONNECTS", c.NATS.MaxReconnects)
	c.NATS.ReconnectWait = getEnvAsDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)
	c.NATS.Timeout = getEnvAsDuration("NATS_TIMEOUT", c.NATS.Timeout)

	c.Multicast.Address = getEnv("MULTICAST_ADDR", c.Multicast.Address)
	c.Multicast.Interface = getEnv("MULTICAST_IFACE", c.Multicast.Interface)
	c.Multicast.TTL = getEnvAsInt("MULTICAST_TTL", c.Multicast.TTL)
	c.Multicast.Loopback = getEnvAsBool("MULTICAST_LOOPBACK", c.Multicast.Loopback)
	return c
}

// BusConfig builds the bus.Open configuration for one tab.
func (c Config) BusConfig(sender string, network *bus.Network) bus.Config {
	return bus.Config{
		Kind:   c.Kind,
		Group:  c.Group,
		Sender: sender,
		NATS: bus.NATSConfig{
			URL:           c.NATS.URL,
			SubjectPrefix: c.NATS.SubjectPrefix,
			MaxReconnects: c.NATS.MaxReconnects,
			ReconnectWait: c.NATS.ReconnectWait,
			Timeout:       c.NATS.Timeout,
		},
		Multicast: bus.MulticastConfig{
			Address:   c.Multicast.Address,
			Interface: c.Multicast.Interface,
			TTL:       c.Multicast.TTL,
			Loopback:  c.Multicast.Loopback,
		},
		Network: network,
	}
}

// Endpoint describes where the bus lives, for logs.
func (c Config) Endpoint() string {
	switch c.Kind {
	case "nats":
		return fmt.Sprintf("%s/%s.%s", c.NATS.URL, c.NATS.SubjectPrefix, c.Group)
	case "multicast":
		return fmt.Sprintf("udp://%s/%s", c.Multicast.Address, c.Group)
	case "memory":
		return "memory://" + c.Group
	default:
		return "none"
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
