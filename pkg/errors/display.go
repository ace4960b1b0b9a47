package errors

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m" // Error code
	colorYellow = "\033[33m" // Context information
	colorCyan   = "\033[36m" // Suggestions
	colorDim    = "\033[90m" // Cause
	colorBold   = "\033[1m"
)

// Formatter handles error display with optional color support.
type Formatter struct {
	// UseColor enables ANSI color codes in output.
	UseColor bool

	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer

	// Indent is the prefix for context and suggestion lines.
	Indent string
}

// DefaultFormatter returns a Formatter for stderr, colored when stderr is a TTY.
func DefaultFormatter() *Formatter {
	return &Formatter{
		UseColor: IsTTY(os.Stderr),
		Writer:   os.Stderr,
		Indent:   "  ",
	}
}

// IsTTY returns true if the given file is a terminal.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Format renders an error. VeilErrors show code, message, context, cause
// and suggestions; other errors are prefixed with "Error: ".
func (f *Formatter) Format(err error) string {
	if err == nil {
		return ""
	}

	ve, ok := AsVeilError(err)
	if !ok {
		return f.paint(colorRed, "Error: ") + err.Error()
	}

	var sb strings.Builder
	sb.WriteString(f.paint(colorRed+colorBold, "ERROR"))
	sb.WriteString(f.paint(colorRed, " ["+ve.Code+"]: "))
	sb.WriteString(ve.Message)
	sb.WriteString("\n")

	if ve.HasContext() {
		keys := make([]string, 0, len(ve.Context))
		for k := range ve.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(f.Indent)
			sb.WriteString(f.paint(colorYellow, k+": "))
			sb.WriteString(ve.Context[k])
			sb.WriteString("\n")
		}
	}

	if ve.Cause != nil {
		sb.WriteString(f.Indent)
		sb.WriteString(f.paint(colorDim, "cause: "+ve.Cause.Error()))
		sb.WriteString("\n")
	}

	if ve.HasSuggestions() {
		if ve.HasContext() || ve.Cause != nil {
			sb.WriteString("\n")
		}
		for i, s := range ve.Suggestions {
			sb.WriteString(f.Indent)
			sb.WriteString(f.paint(colorCyan, "→ "+s))
			if i < len(ve.Suggestions)-1 {
				sb.WriteString("\n")
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) paint(color, s string) string {
	if !f.UseColor {
		return s
	}
	return color + s + colorReset
}

// Display writes a formatted error to the formatter's writer.
func (f *Formatter) Display(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(f.Writer, f.Format(err))
}

// Display writes a formatted error to stderr with default settings.
func Display(err error) {
	DefaultFormatter().Display(err)
}

// Sprint returns a formatted error string without colors.
func Sprint(err error) string {
	f := &Formatter{Writer: io.Discard, Indent: "  "}
	return f.Format(err)
}

// CategoryLabel returns a human-readable label for an error category.
func CategoryLabel(cat Category) string {
	switch cat {
	case CategoryConfig:
		return "Configuration Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryTracking:
		return "Tracking Error"
	case CategoryRepo:
		return "Repository Error"
	case CategoryCommand:
		return "Command Error"
	case CategoryInternal:
		return "Internal Error"
	default:
		return "Error"
	}
}
