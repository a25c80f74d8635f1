package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aretw0/concierge/internal/cli"
	"github.com/aretw0/concierge/pkg/orders"
	"github.com/spf13/cobra"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Run the order backend",
}

var ordersServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the order backend over HTTP",
	Long: `Runs the order state machine over a mock inventory as a separate process.
Point a concierge at it with orders.backend: http and orders.base_url.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("Error: %v", err)
		}
		addr, _ := cmd.Flags().GetString("addr")
		logger := newLogger(cfg)

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		srv := &http.Server{
			Addr:              addr,
			Handler:           orders.NewHandler(cli.LocalOrders(cfg, logger), logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := serve(sigCtx, srv, func() { logger.Info("Serving order backend", "addr", addr) }); err != nil {
			fail("Server error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersServeCmd)
	ordersServeCmd.Flags().String("addr", ":8081", "Address to listen on")
}
