package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"colocation/cmd/internal/anchor"
	"colocation/cmd/internal/anchorapi"
	"colocation/cmd/internal/app"
)

func execute(ctx context.Context, args ...string) (string, error) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	if root.Use != "colocation" {
		t.Fatalf("root.Use=%q want=%q", root.Use, "colocation")
	}

	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, want := range []string{"serve", "host", "join", "clear", "demo"} {
		if !have[want] {
			t.Fatalf("missing subcommand %q", want)
		}
	}
}

func TestLoadDeviceConfig_EnvThenFlags(t *testing.T) {
	t.Setenv("COLO_RELAY_URL", "ws://relay.test:9000/ws")
	t.Setenv("COLO_ANCHOR_API_URL", "http://anchors.test:9000")
	t.Setenv("COLO_SESSION_NAME", "Venus")
	t.Setenv("COLO_LOAD_RETRY_MAX_TRIES", "4")
	t.Setenv("COLO_ANCHOR_LOCALIZE_DELAY", "1s")

	cfg, err := LoadDeviceConfig()
	if err != nil {
		t.Fatalf("LoadDeviceConfig: %v", err)
	}
	if cfg.Transport.URL != "ws://relay.test:9000/ws" || cfg.AnchorAPIURL != "http://anchors.test:9000" {
		t.Fatalf("urls relay=%q api=%q", cfg.Transport.URL, cfg.AnchorAPIURL)
	}
	if cfg.Coordinator.SessionName != "Venus" || cfg.Coordinator.LoadRetry.MaxTries != 4 {
		t.Fatalf("coordinator=%+v", cfg.Coordinator)
	}
	if cfg.Anchors.LocalizeDelay != time.Second || cfg.Anchors.PlacementDelay != 150*time.Millisecond {
		t.Fatalf("anchors=%+v", cfg.Anchors)
	}
	if cfg.Coordinator.GroupPollInterval != 500*time.Millisecond {
		t.Fatalf("GroupPollInterval=%v want=500ms", cfg.Coordinator.GroupPollInterval)
	}

	flags := deviceFlags{session: "Mars", passcode: "s3cret", relayURL: "ws://other:1/ws"}
	flags.apply(&cfg)
	if cfg.Coordinator.SessionName != "Mars" || cfg.Transport.Passcode != "s3cret" || cfg.Transport.URL != "ws://other:1/ws" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.AnchorAPIURL != "http://anchors.test:9000" {
		t.Fatalf("unset flag overrode env: %q", cfg.AnchorAPIURL)
	}
}

func TestCommandArgumentErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "clear without confirmation", args: []string{"clear", "--group", anchor.NewGroupID().String()}, want: errClearUnconfirmed.Error()},
		{name: "clear without group", args: []string{"clear", "--yes"}, want: "group"},
		{name: "clear malformed group", args: []string{"clear", "--yes", "--group", "nope"}, want: "--group"},
		{name: "join malformed group", args: []string{"join", "--group", "nope"}, want: "--group"},
		{name: "extra args", args: []string{"host", "now"}, want: "unknown command"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(ctx, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("execute(%q)=%v want error containing %q", tc.args, err, tc.want)
			}
		})
	}
}

func TestDemo_ClientAlignsToHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := app.DefaultConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var out bytes.Buffer
	if err := runDemo(ctx, log, cfg, "Mars", &out); err != nil {
		t.Fatalf("runDemo: %v\n%s", err, out.String())
	}
	for _, want := range []string{`session "Mars"`, "aligned to anchor", "both devices share one frame"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("demo output missing %q:\n%s", want, out.String())
		}
	}
}

func TestClear_ErasesSharedGroup(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srvApp, err := app.New(context.Background(), app.DefaultConfig(), log)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(srvApp.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := DefaultDeviceConfig()
	cfg.AnchorAPIURL = srv.URL
	cfg.Transport.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Coordinator.SessionName = "Phobos"
	cfg.Anchors.PlacementDelay = 10 * time.Millisecond

	host, err := newDevice(log, "host", cfg, io.Discard)
	if err != nil {
		t.Fatalf("newDevice: %v", err)
	}
	defer host.close()

	group, err := host.coord.StartHosting(ctx)
	if err != nil {
		t.Fatalf("StartHosting: %v", err)
	}

	out, err := execute(ctx, "clear", "--yes", "--group", group.String(), "--anchor-api", srv.URL, "--log-level", "error")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "erased 1 of 1 anchor(s)") {
		t.Fatalf("clear output=%q", out)
	}

	cloud, err := anchorapi.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	left, err := cloud.LoadGroup(ctx, group)
	if err != nil {
		t.Fatalf("LoadGroup: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("LoadGroup after clear=%d want=0", len(left))
	}
}

func TestStatusPrinter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := statusPrinter(&buf, "client")
	r.Report("Joined session", false)
	r.Report("Localization failed", true)

	want := "[client] ok Joined session\n[client] !! Localization failed\n"
	if buf.String() != want {
		t.Fatalf("statusPrinter output=%q want=%q", buf.String(), want)
	}
}
