package colocation

import (
	"context"
	"log/slog"

	"colocation/cmd/internal/anchor"
)

// AnchorService creates, persists, shares and resolves spatial anchors.
type AnchorService interface {
	Create(ctx context.Context, pose anchor.Pose) (anchor.Handle, error)
	Release(ctx context.Context, h anchor.Handle) error
	Save(ctx context.Context, h anchor.Handle) error
	Share(ctx context.Context, hs []anchor.Handle, group anchor.GroupID) error
	LoadGroup(ctx context.Context, group anchor.GroupID) ([]anchor.Unbound, error)
	Localize(ctx context.Context, u anchor.Unbound) (bool, error)
	Bind(ctx context.Context, u anchor.Unbound) (anchor.Handle, error)
	Erase(ctx context.Context, h anchor.Handle) error
}

// Transport is a named real-time session with an authority-only broadcast.
//
// Broadcasts are delivered at least once to every current and future
// participant; the handler runs on the transport's goroutine.
type Transport interface {
	Start(ctx context.Context, role Role, name string) error
	Leave(ctx context.Context) error
	Running() bool
	Authority() bool
	Broadcast(ctx context.Context, payload string) error
	SetBroadcastHandler(fn func(payload string))
}

// AlignmentSink repositions the local frame of reference onto an anchor.
type AlignmentSink interface {
	AlignTo(h anchor.Handle)
}

// Reporter receives short human-readable status lines.
type Reporter interface {
	Report(msg string, failed bool)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(msg string, failed bool)

func (f ReporterFunc) Report(msg string, failed bool) { f(msg, failed) }

// LogReporter writes status lines to a slog.Logger.
type LogReporter struct{ Log *slog.Logger }

func (r LogReporter) Report(msg string, failed bool) {
	if r.Log == nil {
		return
	}
	if failed {
		r.Log.Warn("coordinator.status", "msg", msg)
		return
	}
	r.Log.Info("coordinator.status", "msg", msg)
}

type nopReporter struct{}

func (nopReporter) Report(string, bool) {}
