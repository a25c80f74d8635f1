package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{`   ___                 _                 `, "#34d399"},
	{`  / __|___ _ _  __ ___(_)___ _ _ __ _ ___ `, "#2dd4bf"},
	{` | (__/ _ \ ' \/ _/ -_) / -_) '_/ _' / -_)`, "#22d3ee"},
	{`  \___\___/_||_\__\___|_\___|_| \__, \___|`, "#38bdf8"},
	{`                                |___/     `, "#60a5fa"},
}

// PrintBanner writes the concierge banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+version).Faint())
	fmt.Fprintln(w)
}
