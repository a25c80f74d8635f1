package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/runner"
)

// Conversation is what the chat loop needs from a session machine.
type Conversation interface {
	Run(ctx context.Context, key, text string) (*domain.RunResult, error)
	Reset(ctx context.Context, key string) error
}

// ChatOptions configures Chat.
type ChatOptions struct {
	Key string
	In  io.Reader
	Out io.Writer
	// Console, when set, replaces In and Out. Share it with a confirmation
	// interceptor so both read the same input.
	Console *Console
	Render  func(string) (string, error)
	// Steps prints the detailed step log after every reply.
	Steps bool
	// Quiet drops the prompt, for piped input.
	Quiet bool
}

// Chat reads one message per line from In and prints the replies to Out until
// the input ends, ctx is cancelled or the user types quit.
// A failed message is reported and the conversation goes on; its session state is unchanged.
func Chat(ctx context.Context, conv Conversation, opts ChatOptions) error {
	console := opts.Console
	if console == nil {
		console = NewConsole(ctx, opts.In, opts.Out)
	}
	opts.Out = console.out
	prompt := func() {
		if !opts.Quiet {
			fmt.Fprint(opts.Out, "> ")
		}
	}

	prompt()
	for console.scanner.Scan() {
		line := strings.TrimSpace(console.scanner.Text())
		switch line {
		case "":
			prompt()
			continue
		case "q", "quit", "exit":
			return nil
		case "/reset":
			if err := conv.Reset(ctx, opts.Key); err != nil {
				printSystemMessage(opts.Out, "Reset failed: %v", err)
			} else {
				printSystemMessage(opts.Out, "Session '%s' reset.", opts.Key)
			}
			prompt()
			continue
		}

		result, err := conv.Run(ctx, opts.Key, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			printSystemMessage(opts.Out, "Error: %v", err)
			prompt()
			continue
		}
		if err := printReply(opts, result); err != nil {
			return err
		}
		prompt()
	}

	if err := console.scanner.Err(); err != nil && !isInterrupted(err) {
		return err
	}
	return nil
}

// Console is the line-oriented terminal of a chat. It implements
// runner.Prompter, so tool confirmations are answered on the chat input.
type Console struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewConsole reads lines from in until ctx is done and writes to out.
func NewConsole(ctx context.Context, in io.Reader, out io.Writer) *Console {
	return &Console{
		scanner: bufio.NewScanner(&interruptibleReader{base: in, ctx: ctx}),
		out:     out,
	}
}

// Confirm asks question and reads a yes/no answer. Anything but y or yes denies;
// so does the end of the input.
func (c *Console) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(c.out, ">>> %s [y/N] ", question)
	if !c.scanner.Scan() {
		fmt.Fprintln(c.out)
		if err := c.scanner.Err(); err != nil && !isInterrupted(err) {
			return false, err
		}
		return false, ctx.Err()
	}
	switch strings.ToLower(strings.TrimSpace(c.scanner.Text())) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printReply(opts ChatOptions, result *domain.RunResult) error {
	if last, ok := result.NewItems.Last().(domain.AgentMessage); ok {
		text := last.Text
		if opts.Render != nil {
			rendered, err := opts.Render(text)
			if err != nil {
				return fmt.Errorf("failed to render reply: %w", err)
			}
			text = strings.TrimRight(rendered, "\n")
		}
		fmt.Fprintf(opts.Out, "%s: %s\n", last.Agent, text)
	}
	if opts.Steps {
		fmt.Fprint(opts.Out, runner.FormatTranscript(result.NewItems))
	}
	if result.BudgetExhausted {
		printSystemMessage(opts.Out, "Stopped after %d turns.", result.Turns)
	}
	return nil
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

// ExitError maps a command error to the process outcome: interruptions exit cleanly.
func ExitError(err error) error {
	if err == nil || isInterrupted(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
