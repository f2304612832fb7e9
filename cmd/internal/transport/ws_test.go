package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"colocation/cmd/internal/colocation"
	"colocation/cmd/internal/relay"
	"colocation/cmd/security/passcode"
	v1 "colocation/shared/contracts/session/v1"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRelay(t *testing.T, mutate func(*relay.Config)) string {
	t.Helper()

	cfg := relay.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	pc := passcode.DefaultConfig()
	pc.Params.MemoryKiB = 1024
	pc.Params.Iterations = 1
	pc.Params.Parallelism = 1

	gw := relay.NewGateway(quietLog(), nil, cfg, relay.WithPasscodeConfig(pc))
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newTransport(t *testing.T, url string, mutate func(*Config)) *WS {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = url
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := NewWS(quietLog(), cfg)
	if err != nil {
		t.Fatalf("NewWS: %v", err)
	}
	t.Cleanup(func() { _ = w.Leave(context.Background()) })
	return w
}

func start(t *testing.T, w *WS, role colocation.Role, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Start(ctx, role, name); err != nil {
		t.Fatalf("Start(%s, %q): %v", role, name, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWS_BroadcastReachesLateJoiner(t *testing.T) {
	t.Parallel()

	url := newRelay(t, nil)
	host := newTransport(t, url, func(c *Config) { c.Device = "headset-a" })
	client := newTransport(t, url, nil)

	got := make(chan string, 4)
	client.SetBroadcastHandler(func(p string) { got <- p })

	start(t, host, colocation.RoleHost, "mars")
	if !host.Running() || !host.Authority() || host.ParticipantID() == "" {
		t.Fatalf("host running=%v authority=%v pid=%q", host.Running(), host.Authority(), host.ParticipantID())
	}

	const group = "3f2c1a4e-8b6d-4c1e-9f00-1a2b3c4d5e6f"
	if err := host.Broadcast(context.Background(), group); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	start(t, client, colocation.RoleClient, "mars")
	if client.Authority() {
		t.Fatalf("client must not be authority")
	}

	select {
	case p := <-got:
		if p != group {
			t.Fatalf("broadcast=%q want=%q", p, group)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no broadcast delivered")
	}
}

func TestWS_BroadcastRules(t *testing.T) {
	t.Parallel()

	url := newRelay(t, nil)
	idle := newTransport(t, url, nil)
	if err := idle.Broadcast(context.Background(), "x"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("idle Broadcast=%v want=%v", err, ErrNotRunning)
	}

	host := newTransport(t, url, nil)
	client := newTransport(t, url, nil)
	start(t, host, colocation.RoleHost, "rules")
	start(t, client, colocation.RoleClient, "rules")

	if err := client.Broadcast(context.Background(), "x"); !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("client Broadcast=%v want=%v", err, ErrNotAuthority)
	}
	if err := host.Broadcast(context.Background(), strings.Repeat("x", v1.MaxBroadcastBytes+1)); err == nil {
		t.Fatalf("expected oversized broadcast to fail")
	}
	if err := host.Start(context.Background(), colocation.RoleHost, "again"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start=%v want=%v", err, ErrAlreadyRunning)
	}
}

func TestWS_RelayErrors(t *testing.T) {
	t.Parallel()

	url := newRelay(t, nil)
	host := newTransport(t, url, func(c *Config) { c.Passcode = "4321" })
	start(t, host, colocation.RoleHost, "locked")

	cases := []struct {
		name     string
		role     colocation.Role
		session  string
		passcode string
		wantCode string
	}{
		{name: "unknown session", role: colocation.RoleClient, session: "nowhere", wantCode: v1.CodeSessionNotFound},
		{name: "name taken", role: colocation.RoleHost, session: "locked", wantCode: v1.CodeSessionTaken},
		{name: "wrong passcode", role: colocation.RoleClient, session: "locked", passcode: "9999", wantCode: v1.CodeBadPasscode},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := newTransport(t, url, func(c *Config) { c.Passcode = tc.passcode })
			err := w.Start(context.Background(), tc.role, tc.session)

			var relayErr *RelayError
			if !errors.As(err, &relayErr) || relayErr.Code != tc.wantCode {
				t.Fatalf("Start err=%v want code %q", err, tc.wantCode)
			}
			if w.Running() {
				t.Fatalf("failed Start must not leave a session running")
			}
		})
	}

	ok := newTransport(t, url, func(c *Config) { c.Passcode = "4321" })
	start(t, ok, colocation.RoleClient, "locked")
}

func TestWS_HostLeaveEndsClientSession(t *testing.T) {
	t.Parallel()

	url := newRelay(t, nil)
	host := newTransport(t, url, nil)
	client := newTransport(t, url, nil)
	start(t, host, colocation.RoleHost, "short-lived")
	start(t, client, colocation.RoleClient, "short-lived")

	if err := host.Leave(context.Background()); err != nil {
		t.Fatalf("host Leave: %v", err)
	}
	if host.Running() {
		t.Fatalf("host still running")
	}
	waitFor(t, "client session to close", func() bool { return !client.Running() })

	// The name is free again.
	start(t, host, colocation.RoleHost, "short-lived")
}

func TestWS_KeepaliveOutlivesReadIdleTimeout(t *testing.T) {
	t.Parallel()

	url := newRelay(t, func(c *relay.Config) { c.ReadIdleTimeout = 150 * time.Millisecond })
	w := newTransport(t, url, func(c *Config) { c.KeepaliveInterval = 30 * time.Millisecond })
	start(t, w, colocation.RoleHost, "idle")

	time.Sleep(450 * time.Millisecond)
	if !w.Running() {
		t.Fatalf("session dropped despite keepalives")
	}
}

func TestNewWS_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "http scheme", cfg: Config{URL: "http://127.0.0.1:8080/ws"}},
		{name: "no host", cfg: Config{URL: "ws:///ws"}},
		{name: "bad origin", cfg: Config{URL: "ws://127.0.0.1/ws", Origin: "ftp://x"}},
	}
	for _, tc := range cases {
		if _, err := NewWS(quietLog(), tc.cfg); err == nil {
			t.Fatalf("NewWS(%s) expected error", tc.name)
		}
	}
}
