package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aretw0/concierge/internal/cli"
	"github.com/aretw0/concierge/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the agent graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the agents, their handoffs and tools.
With --session, the agents the session visited and its active agent are highlighted.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("Error: %v", err)
		}
		// Only the graph is needed: keep the build offline and side-effect free.
		cfg.Engine.Kind = "rules"
		cfg.Orders.Backend = "local"

		d, err := cli.Build(context.Background(), cfg, newLogger(cfg), io.Discard)
		if err != nil {
			fail("Error initializing concierge: %v", err)
		}
		defer d.Close()

		var overlay *graph.Overlay
		if key, _ := cmd.Flags().GetString("session"); key != "" {
			state, err := d.Inspect(cmd.Context(), key)
			if err != nil {
				fail("Error loading session '%s': %v", key, err)
			}
			overlay = graph.OverlayFor(state)
		}

		agents := d.Agents()
		fmt.Print(graph.GenerateMermaid(agents.All(), agents.Default().Name, overlay))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Highlight the path of this session")
}
