package app

import (
	"time"

	"colocation/cmd/internal/anchorapi"
	"colocation/cmd/internal/relay"
	"colocation/cmd/security/passcode"

	"github.com/caarlos0/env/v11"
)

// Config contains all server configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"COLO_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"COLO_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"COLO_LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"COLO_LOG_COLOR" envDefault:"false"`

	ReadHeaderTimeout time.Duration `env:"COLO_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"COLO_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"COLO_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"COLO_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"COLO_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout   time.Duration `env:"COLO_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Anchor store selection: Postgres when DatabaseURL is set, else SQLite
	// when SQLitePath is set, else in-memory.
	DatabaseURL   string `env:"COLO_DATABASE_URL"`
	DBSchema      string `env:"COLO_DB_SCHEMA" envDefault:"colocation"`
	DBApplySchema bool   `env:"COLO_DB_APPLY_SCHEMA" envDefault:"true"`
	DBMaxConns    int32  `env:"COLO_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"COLO_DB_MIN_CONNS" envDefault:"0"`
	SQLitePath    string `env:"COLO_SQLITE_PATH"`

	// ReadinessRequireDB makes /readyz fail unless a durable store is configured and reachable.
	ReadinessRequireDB bool `env:"COLO_READINESS_REQUIRE_DB" envDefault:"false"`

	Relay     relay.Config
	AnchorAPI anchorapi.Config
	Passcode  passcode.Config
}

// LoadConfig parses Config from the environment on top of DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	pc, err := passcode.FromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Passcode = pc
	return cfg, nil
}

// DefaultConfig is LoadConfig with an empty environment.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "0.0.0.0:8080",
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,
		DBSchema:          "colocation",
		DBApplySchema:     true,
		DBMaxConns:        10,
		Relay:             relay.DefaultConfig(),
		AnchorAPI:         anchorapi.DefaultConfig(),
		Passcode:          passcode.DefaultConfig(),
	}
}
