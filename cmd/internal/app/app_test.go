package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"colocation/cmd/internal/anchor"
	"colocation/cmd/internal/anchorapi"

	"github.com/google/uuid"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://relay.example.com", want: "wss://relay.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func quietLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Passcode.Params.MemoryKiB = 1024
	cfg.Passcode.Params.Iterations = 1
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthz", status: http.StatusOK, body: "ok"},
		{path: "/readyz", status: http.StatusOK, body: "ready"},
		{path: "/metrics", status: http.StatusOK, body: "go_goroutines"},
		{path: "/v1/groups/" + anchor.NewGroupID().String() + "/anchors", status: http.StatusOK, body: `"anchors":[]`},
	}

	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode != tc.status || !strings.Contains(string(b), tc.body) {
			t.Fatalf("GET %s=%d %q want=%d containing %q", tc.path, resp.StatusCode, b, tc.status, tc.body)
		}
	}
}

func TestApp_ReadinessRequiresDurableStore(t *testing.T) {
	t.Parallel()

	mem := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })
	rec := httptest.NewRecorder()
	mem.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("memory store /readyz=%d want=%d", rec.Code, http.StatusServiceUnavailable)
	}

	path := filepath.Join(t.TempDir(), "anchors.db")
	lite := newTestApp(t, func(c *Config) {
		c.ReadinessRequireDB = true
		c.SQLitePath = path
	})
	if lite.StoreKind() != StoreSQLite {
		t.Fatalf("StoreKind()=%q want=%q", lite.StoreKind(), StoreSQLite)
	}
	t.Cleanup(func() { _ = lite.closeStore() })

	rec = httptest.NewRecorder()
	lite.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sqlite store /readyz=%d want=%d", rec.Code, http.StatusOK)
	}
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	cloud, err := anchorapi.NewClient("http://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	stored := anchor.StoredAnchor{ID: uuid.New(), Pose: anchor.IdentityPose()}
	if err := cloud.SaveAnchor(context.Background(), stored); err != nil {
		t.Fatalf("SaveAnchor through server: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve()=%v want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("COLO_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("COLO_LOG_FORMAT", "pretty")
	t.Setenv("COLO_WS_RATE_EVENTS", "7")
	t.Setenv("COLO_ANCHORAPI_MAX_SHARE_BATCH", "3")
	t.Setenv("COLO_PASSCODE_MIN_LEN", "6")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" || cfg.LogFormat != "pretty" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Relay.RateEvents != 7 || cfg.AnchorAPI.MaxShareBatch != 3 || cfg.Passcode.Policy.MinLength != 6 {
		t.Fatalf("nested cfg relay=%+v api=%+v passcode=%+v", cfg.Relay, cfg.AnchorAPI, cfg.Passcode.Policy)
	}
	if cfg.Relay.MaxSessions != 1024 {
		t.Fatalf("relay default lost: %+v", cfg.Relay)
	}
}
