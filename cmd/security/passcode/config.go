package passcode

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"MEMORY_KIB"`
	Iterations  uint32 `env:"ITERATIONS"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LEN"`
	KeyLength   uint32 `env:"KEY_LEN"`
}

// Policy controls passcode validation.
type Policy struct {
	MinLength int `env:"MIN_LEN"`
	MaxLength int `env:"MAX_LEN"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `envPrefix:"COLO_PASSCODE_ARGON2_"`
	Policy Policy         `envPrefix:"COLO_PASSCODE_"`
}

// DefaultConfig returns settings sized for short-lived session passcodes.
// Sessions are ephemeral, so memory cost is lower than for account passwords.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   19 * 1024,
			Iterations:  2,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 4,
			MaxLength: 64,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - COLO_PASSCODE_MIN_LEN, COLO_PASSCODE_MAX_LEN
//   - COLO_PASSCODE_ARGON2_MEMORY_KIB, _ITERATIONS, _PARALLELISM, _SALT_LEN, _KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: memory_kib out of range [1024..1048576]", ErrConfig)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: iterations out of range [1..20]", ErrConfig)
	case p.Parallelism < 1 || p.Parallelism > 64:
		return fmt.Errorf("%w: parallelism out of range [1..64]", ErrConfig)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: salt_len out of range [8..64]", ErrConfig)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: key_len out of range [16..64]", ErrConfig)
	}
	if c.Policy.MinLength < 1 || c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: min_len(%d) max_len(%d)", ErrConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}
