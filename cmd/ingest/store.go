package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/metrics"
	"github.com/aluiziolira/go-auction-ingest/pipeline"
	"github.com/aluiziolira/go-auction-ingest/store"
)

// initStore connects to Postgres. The schema is applied only when migrate
// is set; other commands expect it to be provisioned already.
func initStore(ctx context.Context, migrate bool) (*store.PostgresStore, error) {
	st, err := store.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if !migrate {
		return st, nil
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func leaserFor(st *store.PostgresStore) pipeline.Leaser {
	if cfg.Pipeline.LeaseBackend == "memory" {
		return pipeline.NewMemoryLeaser(nil)
	}
	return st
}

// opsRouter serves health and metrics endpoints while runs execute.
func opsRouter(st *store.PostgresStore, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// startOpsServer runs the ops endpoint until the returned stop func is called.
func startOpsServer(addr string, handler http.Handler) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("ops server failed", zap.Error(err))
		}
	}()
	zap.L().Info("ops server enabled", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zap.L().Error("ops server shutdown failed", zap.Error(err))
		}
	}
}
