package main

import (
	"context"
	"os"

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/internal/cli"
	"github.com/aretw0/concierge/internal/presentation/tui"
	"github.com/aretw0/concierge/pkg/customerservice"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat [session-key]",
	Short: "Talk to the agents from the terminal",
	Long: `Starts an interactive conversation. Each line is one customer message.
Type /reset to forget the session and quit to leave. Reusing a session key
resumes the conversation with the agent that was active last.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := "local"
		if len(args) > 0 {
			key = args[0]
		}
		steps, _ := cmd.Flags().GetBool("steps")
		confirm, _ := cmd.Flags().GetBool("confirm")

		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("Error: %v", err)
		}
		logger := newLogger(cfg)

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		console := cli.NewConsole(sigCtx, os.Stdin, os.Stdout)
		var interceptors []runner.ToolInterceptor
		if confirm {
			interceptors = append(interceptors, runner.ConfirmationMiddleware(console,
				customerservice.ExecuteOrderTool, customerservice.CancelOrderTool))
		}

		d, err := cli.Build(sigCtx, cfg, logger, os.Stderr, interceptors...)
		if err != nil {
			fail("Error initializing concierge: %v", err)
		}
		defer d.Close()

		interactive := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
		opts := cli.ChatOptions{Key: key, Console: console, Steps: steps, Quiet: !interactive}
		if interactive {
			tui.PrintBanner(os.Stdout, concierge.Version)
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				width = 0
			}
			if render, err := tui.NewRenderer("", width); err == nil {
				opts.Render = render
			}
		}

		if err := cli.ExitError(cli.Chat(sigCtx, d, opts)); err != nil {
			fail("Error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("steps", false, "Print the detailed steps after every reply")
	chatCmd.Flags().Bool("confirm", false, "Ask before executing or canceling an order")
}
