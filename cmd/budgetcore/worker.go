package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/scheduler"
	"github.com/jask/budgetcore/internal/syncqueue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queues periodically and serve /metrics, /healthz and /status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runWorker)
	},
}

// statusResponse is the /status payload.
type statusResponse struct {
	Queue  syncqueue.Stats        `json:"queue"`
	Active bool                   `json:"sync_active"`
	Delete *model.DeleteOperation `json:"delete,omitempty"`
}

func runWorker(ctx context.Context, a *app) error {
	log := logger.FromContext(ctx)

	a.local.Handle(scheduler.TaskSyncTransactions, func(ctx context.Context) error {
		_, err := a.sync.Start(ctx, nil)
		return err
	})
	a.local.Handle(scheduler.TaskDeleteTransactions, func(ctx context.Context) error {
		_, err := a.deletes.Start(ctx, nil)
		return err
	})
	for _, task := range []string{scheduler.TaskSyncTransactions, scheduler.TaskDeleteTransactions} {
		if err := a.local.RegisterPeriodicTask(ctx, task, a.cfg.Worker.Interval); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.Worker.MetricsAddr,
		Handler:           newRouter(a, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Dur("interval", a.cfg.Worker.Interval).Msg("worker started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := a.local.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	err := g.Wait()
	log.Info().Msg("worker stopped")
	return err
}

func newRouter(a *app, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var (
			res statusResponse
			err error
		)
		if res.Queue, err = a.sync.Stats(ctx); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if res.Active, err = a.sync.Active(ctx); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if res.Delete, err = a.deletes.Status(ctx); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, res)
	})
	return r
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// requestLogger logs one line per request with its status and latency.
func requestLogger(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				ev := log.Debug()
				if ww.Status() >= 500 {
					ev = log.Error()
				}
				ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).Dur("latency", time.Since(start)).Msg("request completed")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
