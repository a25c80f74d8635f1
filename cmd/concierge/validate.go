package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/concierge/internal/cli"
	"github.com/aretw0/concierge/pkg/adapters/rules"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration, agent graph and rules",
	Long: `Loads the configuration and builds the agents offline: every handoff target and
tool the graph names must exist, and a custom rules file must parse.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("❌ Invalid configuration:\n%v", err)
		}

		if cfg.Rules != "" {
			data, err := os.ReadFile(cfg.Rules)
			if err != nil {
				fail("❌ Failed to read rules: %v", err)
			}
			if _, err := rules.Load(data); err != nil {
				fail("❌ Invalid rules %s: %v", cfg.Rules, err)
			}
		}

		offline := cfg
		offline.Store.Backend = "memory"
		offline.Engine.Kind = "rules"
		offline.Orders.Backend = "local"
		offline.Tracing.Enabled = false
		d, err := cli.Build(context.Background(), offline, newLogger(cfg), io.Discard)
		if err != nil {
			fail("❌ Invalid agent graph: %v", err)
		}
		defer d.Close()

		fmt.Printf("✅ Configuration is valid (%d agents, default %q, store %s, engine %s).\n",
			len(d.Agents().Names()), d.Agents().Default().Name, cfg.Store.Backend, cfg.Engine.Kind)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
