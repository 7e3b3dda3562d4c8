package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/yourusername/gqlsync/internal/models"
)

// Status is the connection report printed by ping
type Status struct {
	URL             string        `json:"url"`
	State           string        `json:"state"`
	IsOpen          bool          `json:"is_open"`
	IsProtocolValid bool          `json:"is_protocol_valid"`
	RoundTrip       time.Duration `json:"round_trip_ns,omitempty"`
}

// PrintStatus prints a connection report, colored unless color is disabled
func PrintStatus(w io.Writer, s Status) {
	g := glyphs()
	mark := func(ok bool) string {
		if ok {
			return color.GreenString(g.yes)
		}
		return color.RedString(g.no)
	}

	fmt.Fprintf(w, "%s %s\n", color.CyanString("Server:"), s.URL)
	fmt.Fprintf(w, "State: %s\n", s.State)
	fmt.Fprintf(w, "Open: %s\n", mark(s.IsOpen))
	fmt.Fprintf(w, "Protocol valid: %s\n", mark(s.IsProtocolValid))
	if s.RoundTrip > 0 {
		fmt.Fprintf(w, "Round trip: %s\n", s.RoundTrip.Round(time.Microsecond))
	}
}

// PrintErrors prints GraphQL errors in red
func PrintErrors(w io.Writer, errs models.ErrorList) {
	for _, e := range errs {
		line := e.Message
		if len(e.Path) > 0 {
			line = fmt.Sprintf("%s (path %v)", line, e.Path)
		}
		fmt.Fprintln(w, color.RedString("error: ")+line)
	}
}

// PrintJSON prints v as indented JSON. Raw JSON is re-indented as is.
func PrintJSON(w io.Writer, v interface{}) error {
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		buf.WriteByte('\n')
		_, err := w.Write(buf.Bytes())
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to format JSON: %w", err)
	}
	return nil
}

// Success prints a green message
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, color.GreenString(format, args...))
}

// Warning prints a yellow message
func Warning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, color.YellowString(format, args...))
}
