package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders agent replies as terminal markdown.
// style names a glamour standard style ("dark", "light", "notty"); empty detects
// it from the terminal. width wraps the output; zero keeps glamour's default.
func NewRenderer(style string, width int) (func(string) (string, error), error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if style != "" {
		opts[0] = glamour.WithStandardStyle(style)
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return r.Render, nil
}
