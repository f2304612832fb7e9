package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"colocation/cmd/internal/anchor"
	"colocation/cmd/internal/app"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDemoCmd(root *rootOptions) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a relay, a host and a client in one process",
		Long: `demo starts an in-memory relay and anchor API on a loopback port, hosts a
session on one simulated headset and joins it from another. It exits once the
client has aligned to the host's anchor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srvCfg := app.DefaultConfig()
			srvCfg.LogFormat = "pretty"
			root.applyLog(cmd, &srvCfg.LogLevel, &srvCfg.LogFormat, &srvCfg.LogColor)
			log := app.NewLogger(srvCfg.LogLevel, srvCfg.LogFormat, srvCfg.LogColor, cmd.ErrOrStderr())

			return runDemo(cmd.Context(), log, srvCfg, session, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "Mars", "session name")
	return cmd
}

func runDemo(parent context.Context, log *slog.Logger, srvCfg app.Config, session string, out io.Writer) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srv, err := app.New(ctx, srvCfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}
	base := "http://" + ln.Addr().String()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error {
		defer cancel()
		return demoDevices(gctx, log, base, session, out)
	})
	return g.Wait()
}

func demoDevices(ctx context.Context, log *slog.Logger, base, session string, out io.Writer) error {
	cfg := DefaultDeviceConfig()
	cfg.AnchorAPIURL = base
	cfg.Transport.URL = "ws" + strings.TrimPrefix(base, "http") + "/ws"
	cfg.Coordinator.SessionName = session

	hostCfg := cfg
	hostCfg.Transport.Device = "host"
	host, err := newDevice(log, "host", hostCfg, out)
	if err != nil {
		return err
	}
	defer host.close()

	clientCfg := cfg
	clientCfg.Transport.Device = "client"
	client, err := newDevice(log, "client", clientCfg, out)
	if err != nil {
		return err
	}
	defer client.close()

	group, err := host.coord.StartHosting(ctx)
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	printf(out, "[host] session %q group %s\n", session, group)

	got, err := client.coord.JoinAndAwaitGroup(ctx)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	h, err := client.coord.LoadAndAlignWithRetry(ctx, got)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	hostAnchor := host.coord.Anchors()[0]
	printf(out, "[client] aligned to anchor %s\n", h.ID())
	printf(out, "[host] anchor %s\n", formatPose(hostAnchor.Pose()))
	printf(out, "[client] offset %s\n", formatPose(client.rig.Offset()))

	probe := anchor.Vec3{X: 1}
	printf(out, "[client] local %v is shared %v\n", probe, client.rig.ToShared(probe))
	if h.ID() != hostAnchor.ID() {
		return fmt.Errorf("client aligned to %s, host shared %s", h.ID(), hostAnchor.ID())
	}
	printf(out, "both devices share one frame\n")
	return nil
}
