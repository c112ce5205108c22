// Package printer renders CLI output: colored status lines, tables and
// JSON. Output goes to Out and errors to Err so commands can be tested.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

func init() {
	// Users can disable with NO_COLOR.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

// Destinations for normal and error output.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a green line with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an uncolored line.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a yellow line with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a cyan progress line.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled error with an explanation and suggestions to Err
// and returns an error carrying only the title, for cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed in key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(Err, "\n")
		for _, k := range sortedKeys(context) {
			fmt.Fprintf(Err, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, s)
		}
	}
	return fmt.Errorf("%s", title)
}

// Status colors a status word: green for healthy states, yellow for
// warnings, red for failures. Unknown words are printed plain.
func Status(s string) string {
	switch strings.ToUpper(s) {
	case "OK", "CONTINUE", "COMPLETED", "RESOLVED", "AVAILABLE", "RESUME", "HEALTHY":
		return green.Sprint(s)
	case "WARNING", "PENDING", "REDUCE_QUALITY", "CREATE_REVISION_TASK", "IN_PROGRESS":
		return yellow.Sprint(s)
	case "EXCEEDED", "FAILED", "EXPIRED", "MARK_FAILED", "UNHEALTHY":
		return red.Sprint(s)
	default:
		return s
	}
}

// Table renders rows under header to Out.
func Table(header []string, rows [][]any) {
	tw := table.NewWriter()
	tw.SetOutputMirror(Out)
	h := make(table.Row, len(header))
	for i, c := range header {
		h[i] = c
	}
	tw.AppendHeader(h)
	for _, r := range rows {
		tw.AppendRow(table.Row(r))
	}
	tw.Render()
}

// JSON writes v as indented JSON to Out.
func JSON(v any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
