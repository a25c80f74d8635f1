package runner

import (
	"fmt"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
)

// DetailsHeader separates the final agent message from the step log.
const DetailsHeader = "\n\n--- Detailed Steps: ---\n\n"

// FormatResponse renders a RunResult as customer-facing text: the final agent
// message (when the run ended with one), then one line per new item.
func FormatResponse(result *domain.RunResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder

	if last, ok := result.NewItems.Last().(domain.AgentMessage); ok {
		b.WriteString(last.Text)
		b.WriteString(DetailsHeader)
	}

	w := &stepWriter{b: &b}
	for _, item := range result.NewItems {
		item.Accept(w)
	}

	if result.BudgetExhausted {
		fmt.Fprintf(&b, "(stopped after %d turns)\n", result.Turns)
	}
	return b.String()
}

type stepWriter struct {
	b *strings.Builder
}

func (w *stepWriter) VisitUserMessage(m domain.UserMessage) {
	fmt.Fprintf(w.b, "User: %s\n", m.Text)
}

func (w *stepWriter) VisitAgentMessage(m domain.AgentMessage) {
	fmt.Fprintf(w.b, "%s: %s\n", m.Agent, m.Text)
}

func (w *stepWriter) VisitToolCallRequested(m domain.ToolCallRequested) {
	fmt.Fprintf(w.b, "%s: Calling a tool\n", m.Agent)
}

func (w *stepWriter) VisitToolCallResult(m domain.ToolCallResult) {
	fmt.Fprintf(w.b, "%s: Tool call output: %s\n", m.Agent, m.Output)
}

func (w *stepWriter) VisitHandoff(m domain.HandoffOccurred) {
	fmt.Fprintf(w.b, "Handed off from %s to %s\n", m.From, m.To)
}

// FormatTranscript renders a whole session history, user messages included.
func FormatTranscript(t domain.Transcript) string {
	var b strings.Builder
	w := &stepWriter{b: &b}
	for _, item := range t {
		item.Accept(w)
	}
	return b.String()
}
