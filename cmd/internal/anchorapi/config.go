package anchorapi

import "github.com/caarlos0/env/v11"

// Config controls anchor API limits.
type Config struct {
	MaxBodyBytes  int64 `env:"COLO_ANCHORAPI_MAX_BODY_BYTES" envDefault:"65536"`
	MaxShareBatch int   `env:"COLO_ANCHORAPI_MAX_SHARE_BATCH" envDefault:"64"`
}

// DefaultConfig returns the limits used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: 64 << 10, MaxShareBatch: 64}
}

// LoadConfigFromEnv parses Config from the environment and clamps bad values.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.MaxShareBatch <= 0 {
		c.MaxShareBatch = def.MaxShareBatch
	}
	return c
}
