package relay

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds gateway and hub tuning. Zero fields fall back to DefaultConfig.
type Config struct {
	// DevInsecure skips websocket.Accept origin verification. Dev only.
	DevInsecure bool `env:"COLO_WS_DEV_INSECURE" envDefault:"false"`

	// Origin is required by default and only localhost is allowed (secure-by-default for dev).
	OriginRequired bool     `env:"COLO_WS_ORIGIN_REQUIRED" envDefault:"true"`
	AllowedOrigins []string `env:"COLO_WS_ALLOWED_ORIGINS" envDefault:"http://localhost,http://127.0.0.1" envSeparator:","`

	WriteTimeout    time.Duration `env:"COLO_WS_WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout time.Duration `env:"COLO_WS_READ_IDLE_TIMEOUT" envDefault:"2m"`
	SendQueueSize   int           `env:"COLO_WS_SEND_QUEUE" envDefault:"64"`

	HeartbeatInterval time.Duration `env:"COLO_WS_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"COLO_WS_HEARTBEAT_TIMEOUT" envDefault:"5s"`

	// Per-connection rate limit (events per window).
	RateEvents int           `env:"COLO_WS_RATE_EVENTS" envDefault:"60"`
	RateWindow time.Duration `env:"COLO_WS_RATE_WINDOW" envDefault:"10s"`

	MaxSessions       int `env:"COLO_RELAY_MAX_SESSIONS" envDefault:"1024"`
	MaxSessionMembers int `env:"COLO_RELAY_MAX_SESSION_MEMBERS" envDefault:"16"`
}

const minSendQueueSize = 8

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     64,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		RateEvents:        60,
		RateWindow:        10 * time.Second,
		MaxSessions:       1024,
		MaxSessionMembers: 16,
	}
}

// LoadConfigFromEnv parses Config from COLO_WS_* / COLO_RELAY_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = def.MaxSessions
	}
	if c.MaxSessionMembers <= 1 {
		c.MaxSessionMembers = def.MaxSessionMembers
	}
	return c
}
