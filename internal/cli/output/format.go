// Package output provides output formatting for the cnabflow CLI commands.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	// FormatTable outputs data in a formatted table.
	FormatTable Format = "table"
	// FormatJSON outputs data as JSON.
	FormatJSON Format = "json"
	// FormatYAML outputs data as YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// ANSI escape codes for terminal color.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

// StatusDot renders an upload or dependency status with a colored indicator.
// Terminal success states are green, failures red, and anything still in
// flight (pending, processing, partial_success) yellow. With color disabled
// the status is returned unchanged.
func StatusDot(status string, color bool) string {
	if !color {
		return status
	}
	switch status {
	case "healthy", "success":
		return ansiGreen + "● " + status + ansiReset
	case "unreachable":
		return ansiRed + "○ " + status + ansiReset
	case "unhealthy", "failed":
		return ansiRed + "● " + status + ansiReset
	default:
		return ansiYellow + "● " + status + ansiReset
	}
}

// Printer handles formatted output to a writer.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a new Printer with the given options.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{
		out:    out,
		format: format,
		color:  color,
	}
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// ColorEnabled returns whether color output is enabled.
func (p *Printer) ColorEnabled() bool {
	return p.color
}

// Println prints a message followed by a newline.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

// Printf prints a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Success prints a success message in green.
func (p *Printer) Success(msg string) {
	p.colorln(ansiGreen, msg)
}

// Error prints an error message in red.
func (p *Printer) Error(msg string) {
	p.colorln(ansiRed, msg)
}

// Warning prints a warning message in yellow.
func (p *Printer) Warning(msg string) {
	p.colorln(ansiYellow, msg)
}

func (p *Printer) colorln(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "%s%s%s\n", code, msg, ansiReset)
	} else {
		_, _ = fmt.Fprintln(p.out, msg)
	}
}
