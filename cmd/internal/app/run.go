package app

import "context"

// Run loads config from the environment, applies mutate (flag overrides)
// and serves until ctx is done.
func Run(ctx context.Context, mutate func(*Config)) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor, nil)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
