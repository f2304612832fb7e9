package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config points a device at a relay.
type Config struct {
	URL    string `env:"COLO_RELAY_URL" envDefault:"ws://127.0.0.1:8080/ws"`
	Origin string `env:"COLO_RELAY_ORIGIN" envDefault:"http://localhost"`

	// Device is a free-form label the relay logs next to the participant id.
	Device   string `env:"COLO_DEVICE_NAME"`
	Passcode string `env:"COLO_SESSION_PASSCODE"`

	DialTimeout  time.Duration `env:"COLO_RELAY_DIAL_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"COLO_RELAY_WRITE_TIMEOUT" envDefault:"5s"`

	// KeepaliveInterval must stay below the relay's read-idle timeout.
	KeepaliveInterval time.Duration `env:"COLO_RELAY_KEEPALIVE_INTERVAL" envDefault:"30s"`
}

// DefaultConfig targets a relay on localhost.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://127.0.0.1:8080/ws",
		Origin:            "http://localhost",
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		KeepaliveInterval: 30 * time.Second,
	}
}

// LoadConfigFromEnv parses Config from COLO_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

// Validate checks the relay URL and origin.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("relay url: missing host")
	}

	if strings.TrimSpace(c.Origin) == "" {
		return nil
	}
	o, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if o.Scheme != "http" && o.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got %q", o.Scheme)
	}
	return nil
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		c.URL = def.URL
	}
	c.Origin = strings.TrimSpace(c.Origin)
	c.Device = strings.TrimSpace(c.Device)
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	return c
}
