package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the forkline banner with the version.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"   __            _    _ _            ", "#34d399"},
		{"  / _| ___  _ __| | _| (_)_ __   ___ ", "#2dd4bf"},
		{" | |_ / _ \\| '__| |/ / | | '_ \\ / _ \\", "#22d3ee"},
		{" |  _| (_) | |  |   <| | | | | |  __/", "#38bdf8"},
		{" |_|  \\___/|_|  |_|\\_\\_|_|_| |_|\\___|", "#60a5fa"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
