package colocation

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// RetryConfig bounds LoadAndAlignWithRetry.
type RetryConfig struct {
	InitialInterval time.Duration `env:"INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"MAX_INTERVAL" envDefault:"5s"`
	MaxElapsed      time.Duration `env:"MAX_ELAPSED" envDefault:"1m"`
	MaxTries        uint          `env:"MAX_TRIES" envDefault:"10"`
}

// Config tunes a Coordinator.
type Config struct {
	SessionName string `env:"COLO_SESSION_NAME" envDefault:"colocation"`

	// CreateTimeout is the wall-clock ceiling for a new anchor to be placed.
	CreateTimeout      time.Duration `env:"COLO_CREATE_TIMEOUT" envDefault:"16s"`
	CreatePollInterval time.Duration `env:"COLO_CREATE_POLL_INTERVAL" envDefault:"16ms"`

	// LocalizeTimeout bounds each per-anchor localization attempt.
	LocalizeTimeout time.Duration `env:"COLO_LOCALIZE_TIMEOUT" envDefault:"10s"`

	// GroupPollInterval is how often a joining client checks for the group id.
	GroupPollInterval time.Duration `env:"COLO_GROUP_POLL_INTERVAL" envDefault:"500ms"`

	// BroadcastAfterShare defers the host's group broadcast until its anchor is shared.
	BroadcastAfterShare bool `env:"COLO_BROADCAST_AFTER_SHARE" envDefault:"false"`

	LoadRetry RetryConfig `envPrefix:"COLO_LOAD_RETRY_"`
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		SessionName:        "colocation",
		CreateTimeout:      16 * time.Second,
		CreatePollInterval: 16 * time.Millisecond,
		LocalizeTimeout:    10 * time.Second,
		GroupPollInterval:  500 * time.Millisecond,
		LoadRetry: RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxElapsed:      time.Minute,
			MaxTries:        10,
		},
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

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.SessionName == "" {
		c.SessionName = def.SessionName
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = def.CreateTimeout
	}
	if c.CreatePollInterval <= 0 {
		c.CreatePollInterval = def.CreatePollInterval
	}
	if c.LocalizeTimeout <= 0 {
		c.LocalizeTimeout = def.LocalizeTimeout
	}
	if c.GroupPollInterval <= 0 {
		c.GroupPollInterval = def.GroupPollInterval
	}
	if c.LoadRetry.InitialInterval <= 0 {
		c.LoadRetry.InitialInterval = def.LoadRetry.InitialInterval
	}
	if c.LoadRetry.MaxInterval < c.LoadRetry.InitialInterval {
		c.LoadRetry.MaxInterval = max(def.LoadRetry.MaxInterval, c.LoadRetry.InitialInterval)
	}
	if c.LoadRetry.MaxElapsed <= 0 {
		c.LoadRetry.MaxElapsed = def.LoadRetry.MaxElapsed
	}
	if c.LoadRetry.MaxTries == 0 {
		c.LoadRetry.MaxTries = def.LoadRetry.MaxTries
	}
	return c
}
