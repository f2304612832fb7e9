package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.storeKind == StoreMemory {
			http.Error(w, "durable store not configured", http.StatusServiceUnavailable)
			return
		}

		var err error
		switch {
		case a.pool != nil:
			err = PingDB(r.Context(), a.pool, 2*time.Second)
		case a.sqlite != nil:
			err = a.sqlite.Ping(r.Context())
		}
		if err != nil {
			a.log.Info("readyz.store.not_ready", "store", a.storeKind, "err", err)
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/ws", a.gateway)
	a.anchors.Register(mux)
}
