package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/concierge/internal/cli"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `List, inspect, and remove sessions committed to the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore := openStore(cmd)
		defer closeStore()

		sessions, err := store.List(cmd.Context())
		if err != nil {
			fail("Error listing sessions: %v", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return
		}
		fmt.Println("Sessions:")
		for _, s := range sessions {
			fmt.Println("- " + s)
		}
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-key>",
	Short: "Inspect the committed state of a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore := openStore(cmd)
		defer closeStore()

		state, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			fail("Error loading session '%s': %v", args[0], err)
		}

		if asText, _ := cmd.Flags().GetBool("transcript"); asText {
			fmt.Printf("Session %s (seq %d, active agent %s)\n\n", state.Key, state.Seq, state.ActiveAgent)
			fmt.Print(runner.FormatTranscript(state.Transcript))
			return
		}
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			fail("Error marshaling state: %v", err)
		}
		fmt.Println(string(data))
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-key>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, closeStore := openStore(cmd)
		defer closeStore()
		hasError := false

		for _, key := range args {
			if err := store.Delete(cmd.Context(), key); err != nil {
				fmt.Printf("Error removing '%s': %v\n", key, err)
				hasError = true
			} else {
				fmt.Printf("Removed session '%s'\n", key)
			}
		}
		if hasError {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
	sessionInspectCmd.Flags().Bool("transcript", false, "Print the transcript as text instead of JSON")
}

func openStore(cmd *cobra.Command) (ports.StateStore, func() error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fail("Error: %v", err)
	}
	store, closeStore, err := cli.OpenStore(cmd.Context(), cfg)
	if err != nil {
		fail("Error opening store: %v", err)
	}
	return store, closeStore
}
