package tui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewRenderer returns a function that renders markdown using glamour.
// Output that is not a terminal gets the markdown unchanged.
func NewRenderer(out *os.File) func(string) (string, error) {
	if !IsTerminal(out) {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	width := 100
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 20 {
		width = w - 4
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return r.Render
}
