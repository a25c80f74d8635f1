package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/concierge/internal/cli"
	httpAdapter "github.com/aretw0/concierge/pkg/adapters/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session API",
	Long: `Serves the session machine over HTTP: POST /sessions/{key}/messages runs one
message, GET /sessions/{key} inspects it, GET /metrics exposes Prometheus metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("Error: %v", err)
		}
		if cmd.Flags().Changed("addr") {
			cfg.HTTP.Addr, _ = cmd.Flags().GetString("addr")
		}
		logger := newLogger(cfg)

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		d, err := cli.Build(sigCtx, cfg, logger, os.Stderr)
		if err != nil {
			fail("Error initializing concierge: %v", err)
		}
		defer d.Close()

		opts := []httpAdapter.Option{
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMetrics(d.Metrics.Handler()),
		}
		if cfg.HTTP.RateLimit > 0 {
			opts = append(opts, httpAdapter.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.Burst))
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpAdapter.NewHandler(d, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if err := serve(sigCtx, srv, func() { logger.Info("Serving session API", "addr", srv.Addr, "store", cfg.Store.Backend) }); err != nil {
			fail("Server error: %v", err)
		}
		logger.Info("Server stopped gracefully", "signal", sigCtx.Signal())
	},
}

// serve runs srv until ctx is done, then shuts it down with a deadline.
func serve(ctx context.Context, srv *http.Server, started func()) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		started()
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Join(err, srv.Close())
		}
		return nil
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, :8080)")
}
