package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	// NewLogger replaces slog's default logger.
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var jsonBuf, prettyBuf bytes.Buffer
	NewLogger("info", "json", false, &jsonBuf).Info("server.start", "addr", ":8080")
	NewLogger("info", "pretty", false, &prettyBuf).Info("server.start", "addr", ":8080")

	if !strings.HasPrefix(jsonBuf.String(), "{") || !strings.Contains(jsonBuf.String(), `"msg":"server.start"`) {
		t.Fatalf("json output=%q", jsonBuf.String())
	}
	if !strings.Contains(prettyBuf.String(), "server.start addr=:8080") {
		t.Fatalf("pretty output=%q", prettyBuf.String())
	}
}
