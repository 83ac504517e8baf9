// Command gue-status is a small status server: it opens a pool, serves
// the current work-type histogram as JSON, and exposes the same figures
// to Prometheus at /metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	gue "github.com/carvalhoven/dque"
	"github.com/carvalhoven/dque/adapter"
	"github.com/carvalhoven/dque/adapter/pgxv5"
	"github.com/carvalhoven/dque/internal/metrics"
)

func main() {
	app := &cli.App{
		Name:  "gue-status",
		Usage: "serve the job queue's histogram as JSON and Prometheus metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "Postgres connection string", EnvVars: []string{"GUE_DSN"}, Required: true},
			&cli.StringFlag{Name: "addr", Usage: "listen address", Value: ":8080"},
			&cli.DurationFlag{Name: "refresh", Usage: "Prometheus collector refresh interval", Value: 15 * time.Second},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx := c.Context

	pgxPool, err := pgxpool.New(ctx, c.String("dsn"))
	if err != nil {
		return fmt.Errorf("gue-status: connecting to database: %w", err)
	}
	pool := pgxv5.NewConnPool(pgxPool)
	defer pool.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry, pool)

	go func() {
		if err := collector.Run(ctx, c.Duration("refresh")); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "gue-status: metrics collector stopped:", err)
		}
	}()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/histogram", histogramHandler(pool)).Methods(http.MethodGet)

	server := &http.Server{Addr: c.String("addr"), Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func histogramHandler(pool adapter.ConnPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := pool.Begin(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() { _ = tx.Rollback(r.Context()) }()

		stats, err := gue.Histogram(r.Context(), tx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}
