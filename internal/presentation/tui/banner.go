package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the warden banner to w, colored when w supports it.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{" __      __                 _            ", "#34d399"},
		{" \\ \\    / /__ _ _ _ __ ___ | | ___ _ __  ", "#2dd4bf"},
		{"  \\ \\/\\/ / _` | '_/ _` / -_)| |/ -_) '_ \\ ", "#22d3ee"},
		{"   \\_/\\_/\\__,_|_| \\__,_\\___||_|\\___|_| |_|", "#38bdf8"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}

// Status colors a lifecycle or health label.
func Status(w io.Writer, label string) string {
	out := termenv.NewOutput(w)
	color := "#a1a1aa"
	switch label {
	case "completed", "approved", "healthy", "signed", "low":
		color = "#22c55e"
	case "awaiting_approval", "pending", "degraded", "medium", "warning":
		color = "#eab308"
	case "failed", "rejected", "expired", "critical", "high", "error":
		color = "#ef4444"
	}
	return out.String(label).Foreground(out.Color(color)).String()
}
