// Package output provides CLI output formatting with optional color.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	scoreStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Color is enabled only when out is a terminal.
func New(out io.Writer) *Writer {
	useColor := false
	if f, ok := out.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, useColor: useColor}
}

// Header prints a section header.
func (w *Writer) Header(text string) {
	fmt.Fprintln(w.out, w.style(headerStyle, text))
}

// Result prints one ranked result line.
func (w *Writer) Result(rank int, id string, score float64, text string) {
	fmt.Fprintf(w.out, "%2d. %s %s\n", rank, w.style(scoreStyle, fmt.Sprintf("%.4f", score)), id)
	if text != "" {
		fmt.Fprintf(w.out, "    %s\n", w.style(dimStyle, text))
	}
}

// Line prints a plain line.
func (w *Writer) Line(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	fmt.Fprintln(w.out, w.style(errorStyle, "error: "+msg))
}

func (w *Writer) style(s lipgloss.Style, text string) string {
	if !w.useColor {
		return text
	}
	return s.Render(text)
}
