package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"colocation/cmd/internal/alignment"
	"colocation/cmd/internal/anchor"
	"colocation/cmd/internal/anchorapi"
	"colocation/cmd/internal/app"
	"colocation/cmd/internal/colocation"
	"colocation/cmd/internal/transport"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// DeviceConfig is everything one headset needs to reach the relay and the
// shared anchor API.
type DeviceConfig struct {
	AnchorAPIURL string `env:"COLO_ANCHOR_API_URL" envDefault:"http://127.0.0.1:8080"`

	LogLevel  string `env:"COLO_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"COLO_LOG_FORMAT" envDefault:"pretty"`
	LogColor  bool   `env:"COLO_LOG_COLOR" envDefault:"true"`

	Transport   transport.Config
	Coordinator colocation.Config
	Anchors     anchor.RuntimeConfig
}

// DefaultDeviceConfig is LoadDeviceConfig with an empty environment.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		AnchorAPIURL: "http://127.0.0.1:8080",
		LogLevel:     "info",
		LogFormat:    "pretty",
		LogColor:     true,
		Transport:    transport.DefaultConfig(),
		Coordinator:  colocation.DefaultConfig(),
		Anchors: anchor.RuntimeConfig{
			PlacementDelay: 150 * time.Millisecond,
			LocalizeDelay:  200 * time.Millisecond,
		},
	}
}

// LoadDeviceConfig parses DeviceConfig from COLO_* variables.
func LoadDeviceConfig() (DeviceConfig, error) {
	cfg := DefaultDeviceConfig()
	if err := env.Parse(&cfg); err != nil {
		return DeviceConfig{}, fmt.Errorf("device config: %w", err)
	}
	return cfg, nil
}

// deviceFlags are shared by every command that acts as a headset.
type deviceFlags struct {
	relayURL  string
	anchorAPI string
	session   string
	passcode  string
	device    string
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.relayURL, "relay", "", "relay WebSocket URL (env COLO_RELAY_URL)")
	fs.StringVar(&f.anchorAPI, "anchor-api", "", "shared anchor API base URL (env COLO_ANCHOR_API_URL)")
	fs.StringVarP(&f.session, "session", "s", "", "session name (env COLO_SESSION_NAME)")
	fs.StringVar(&f.passcode, "passcode", "", "session passcode (env COLO_SESSION_PASSCODE)")
	fs.StringVar(&f.device, "device", "", "device label shown in relay logs (env COLO_DEVICE_NAME)")
}

func (f *deviceFlags) apply(cfg *DeviceConfig) {
	if f.relayURL != "" {
		cfg.Transport.URL = f.relayURL
	}
	if f.anchorAPI != "" {
		cfg.AnchorAPIURL = f.anchorAPI
	}
	if f.session != "" {
		cfg.Coordinator.SessionName = f.session
	}
	if f.passcode != "" {
		cfg.Transport.Passcode = f.passcode
	}
	if f.device != "" {
		cfg.Transport.Device = f.device
	}
}

// loadDevice resolves config (env, then flags) and the process logger.
func loadDevice(cmd *cobra.Command, root *rootOptions, flags *deviceFlags) (DeviceConfig, *slog.Logger, error) {
	cfg, err := LoadDeviceConfig()
	if err != nil {
		return DeviceConfig{}, nil, err
	}
	flags.apply(&cfg)
	root.applyLog(cmd, &cfg.LogLevel, &cfg.LogFormat, &cfg.LogColor)
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor, cmd.ErrOrStderr()), nil
}

// device is one headset: anchor runtime, relay transport, alignment rig and
// the coordinator driving them.
type device struct {
	name    string
	coord   *colocation.Coordinator
	runtime *anchor.Runtime
	tr      *transport.WS
	rig     *alignment.Rig
}

func newDevice(log *slog.Logger, name string, cfg DeviceConfig, out io.Writer, opts ...anchor.RuntimeOption) (*device, error) {
	log = log.With("device", name)

	cloud, err := anchorapi.NewClient(cfg.AnchorAPIURL)
	if err != nil {
		return nil, err
	}
	rt, err := anchor.NewRuntime(log, cloud, cfg.Anchors, opts...)
	if err != nil {
		return nil, err
	}
	tr, err := transport.NewWS(log, cfg.Transport)
	if err != nil {
		return nil, err
	}
	rig := alignment.NewRig(log)

	coord, err := colocation.New(log, cfg.Coordinator, rt, tr, rig,
		colocation.WithReporter(statusPrinter(out, name)),
		colocation.WithMetrics(colocation.NewMetrics(nil)),
	)
	if err != nil {
		return nil, err
	}
	return &device{name: name, coord: coord, runtime: rt, tr: tr, rig: rig}, nil
}

// close leaves the session and drops live anchors. Shared anchors stay in the cloud.
func (d *device) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d.tr.Running() {
		_ = d.coord.Leave(ctx)
	}
	_ = d.runtime.Close()
}

var outMu sync.Mutex

// statusPrinter renders coordinator status lines. Devices in one process
// share out, so writes are serialized.
func statusPrinter(out io.Writer, name string) colocation.Reporter {
	return colocation.ReporterFunc(func(msg string, failed bool) {
		mark := "ok"
		if failed {
			mark = "!!"
		}
		outMu.Lock()
		defer outMu.Unlock()
		_, _ = fmt.Fprintf(out, "[%s] %s %s\n", name, mark, msg)
	})
}

func printf(out io.Writer, format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	_, _ = fmt.Fprintf(out, format, args...)
}

func formatPose(p anchor.Pose) string {
	return fmt.Sprintf("pos=(%.3f, %.3f, %.3f) rot=(%.3f, %.3f, %.3f, %.3f)",
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.X, p.Orientation.Y, p.Orientation.Z, p.Orientation.W)
}
