package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
)

// Overlay contains session state to highlight on the graph.
type Overlay struct {
	VisitedAgents []string
	CurrentAgent  string
}

// OverlayFor derives an overlay from a committed session.
func OverlayFor(state *domain.SessionState) *Overlay {
	o := &Overlay{CurrentAgent: state.ActiveAgent}
	for _, item := range state.Transcript {
		switch it := item.(type) {
		case domain.HandoffOccurred:
			o.VisitedAgents = append(o.VisitedAgents, it.From, it.To)
		case domain.AgentMessage:
			o.VisitedAgents = append(o.VisitedAgents, it.Agent)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of the agent graph.
// The default agent is a ((circle)), tools are [[subroutines]] linked with
// dotted edges, and handoffs are solid arrows.
func GenerateMermaid(agents []domain.Agent, defaultAgent string, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	tools := map[string]bool{}
	for _, a := range agents {
		id := sanitizeMermaidID(a.Name)
		opener, closer := "[", "]"
		if a.Name == defaultAgent {
			opener, closer = "((", "))"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, escape(a.Name), closer)

		for _, target := range a.Handoffs {
			fmt.Fprintf(&sb, "    %s -- \"handoff\" --> %s\n", id, sanitizeMermaidID(target))
		}
		for _, tool := range a.Tools {
			toolID := "tool_" + sanitizeMermaidID(tool)
			if !tools[tool] {
				tools[tool] = true
				fmt.Fprintf(&sb, "    %s[[\"%s\"]]\n", toolID, escape(tool))
			}
			fmt.Fprintf(&sb, "    %s -.-> %s\n", id, toolID)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, name := range overlay.VisitedAgents {
			id := sanitizeMermaidID(name)
			if id != "" && !seen[id] && name != overlay.CurrentAgent {
				seen[id] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", id)
			}
		}
		if overlay.CurrentAgent != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentAgent))
		}
	}

	return sb.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, id)
}
