// Package app wires the colocation server runtime: config, logging, the
// session relay, the shared anchor API and the operational endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"colocation/cmd/internal/anchor"
	"colocation/cmd/internal/anchorapi"
	"colocation/cmd/internal/relay"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Store backends reported by App.StoreKind.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// App is the server runtime. It owns the anchor store, the relay and the HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store     anchor.Store
	storeKind string
	pool      *pgxpool.Pool
	sqlite    *anchor.SQLiteStore

	registry *prometheus.Registry
	gateway  *relay.Gateway
	anchors  *anchorapi.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor, nil)
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	api, err := anchorapi.NewHandler(log, a.store, cfg.AnchorAPI)
	if err != nil {
		_ = a.closeStore()
		return nil, err
	}
	a.anchors = api

	metrics := relay.NewMetrics(a.registry)
	hub := relay.NewHub(log, cfg.Relay, metrics)
	a.gateway = relay.NewGateway(log, hub, cfg.Relay,
		relay.WithMetrics(metrics),
		relay.WithPasscodeConfig(cfg.Passcode),
	)
	return a, nil
}

// openStore picks Postgres, then SQLite, then memory.
func (a *App) openStore(ctx context.Context) error {
	switch {
	case a.cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		st, err := anchor.NewPostgresStore(pool, anchor.WithSchema(a.cfg.DBSchema))
		if err != nil {
			pool.Close()
			return err
		}
		if a.cfg.DBApplySchema {
			if err := st.ApplySchema(ctx); err != nil {
				pool.Close()
				return fmt.Errorf("postgres schema: %w", err)
			}
		}
		a.pool, a.store, a.storeKind = pool, st, StorePostgres

	case a.cfg.SQLitePath != "":
		st, err := anchor.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.sqlite, a.store, a.storeKind = st, st, StoreSQLite

	default:
		a.store, a.storeKind = anchor.NewInMemoryStore(), StoreMemory
	}

	a.log.Info("store.open", "kind", a.storeKind)
	return nil
}

func (a *App) closeStore() error {
	err := a.store.Close()
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

// StoreKind reports which anchor store backs the API.
func (a *App) StoreKind() string { return a.storeKind }

// Handler returns the full HTTP handler, including request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(mux, a.log)
}

// Run listens on cfg.HTTPAddr and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully and closes the store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZero(a.cfg.ReadHeaderTimeout, DefaultConfig().ReadHeaderTimeout),
		ReadTimeout:       nonZero(a.cfg.ReadTimeout, DefaultConfig().ReadTimeout),
		WriteTimeout:      nonZero(a.cfg.WriteTimeout, DefaultConfig().WriteTimeout),
		IdleTimeout:       nonZero(a.cfg.IdleTimeout, DefaultConfig().IdleTimeout),
		MaxHeaderBytes:    nonZero(a.cfg.MaxHeaderBytes, DefaultConfig().MaxHeaderBytes),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"anchor_api", base+"/v1",
		"relay", wsBaseURL(base)+"/ws",
		"store", a.storeKind,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZero(a.cfg.ShutdownTimeout, DefaultConfig().ShutdownTimeout))
		defer cancel()
		a.log.Info("server.stop", "reason", "context_done")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := a.closeStore(); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func nonZero[T ~int | ~int32 | ~int64](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL clients on this host can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) equivalent.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
