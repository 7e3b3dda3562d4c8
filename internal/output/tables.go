package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/yourusername/gqlsync/internal/operation"
	"github.com/yourusername/gqlsync/internal/store"
)

// PrintObjectsTable prints cached objects in a table format
func PrintObjectsTable(w io.Writer, objects []*store.Object) {
	table := tablewriter.NewWriter(w)
	table.Header("Type", "ID", "Refs", "Fields")

	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Type() != objects[j].Type() {
			return objects[i].Type() < objects[j].Type()
		}
		return objects[i].ID() < objects[j].ID()
	})

	width := fieldsWidth()
	for _, o := range objects {
		id := o.ID()
		if o.IsRoot() {
			id = "root:" + o.RootName()
		}
		table.Append(
			o.Type(),
			truncate(id, 24),
			fmt.Sprintf("%d", o.Refs()),
			truncate(FormatFields(o), width),
		)
	}

	table.Render()
}

// PrintObjectDetail prints every field of one object
func PrintObjectDetail(w io.Writer, o *store.Object) {
	if o.IsRoot() {
		fmt.Fprintf(w, "Root: %s (%s)\n", o.RootName(), o.Type())
	} else {
		fmt.Fprintf(w, "Object: %s\n", o.Key())
	}
	fmt.Fprintf(w, "Refs: %d\n", o.Refs())
	for _, key := range o.Keys() {
		v, _ := o.Get(key)
		fmt.Fprintf(w, "  %s: %s\n", key, FormatValue(v))
	}
}

// PrintOperationsTable prints operation handlers in a table format
func PrintOperationsTable(w io.Writer, ops []*operation.Operation) {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Kind", "ID", "In Flight", "Completed", "Errors")

	g := glyphs()
	for _, op := range ops {
		def := op.Definition()
		inFlight := ""
		if op.InFlight() {
			inFlight = g.yes
		}
		completed := ""
		if op.Completed() {
			completed = g.yes
		}
		errs := "-"
		if err := op.Err(); err != nil {
			errs = err.Error()
		} else if len(op.Errors()) > 0 {
			errs = op.Errors().Error()
		}

		table.Append(
			def.Name,
			def.Kind.String(),
			truncate(op.ID(), 12),
			inFlight,
			completed,
			truncate(errs, 40),
		)
	}

	table.Render()
}

// FormatFields renders the fields of o on one line
func FormatFields(o *store.Object) string {
	keys := o.Keys()
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		v, _ := o.Get(key)
		parts = append(parts, key+"="+FormatValue(v))
	}
	return strings.Join(parts, " ")
}

// FormatValue renders one stored value
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case *store.Object:
		if val == nil {
			return "null"
		}
		if val.HasIdentity() {
			return "→" + val.Key().String()
		}
		return "{" + FormatFields(val) + "}"
	case []interface{}:
		if len(val) == 0 {
			return "[]"
		}
		strs := make([]string, 0, len(val))
		for _, item := range val {
			strs = append(strs, FormatValue(item))
		}
		return "[" + strings.Join(strs, ", ") + "]"
	case []*store.Object:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			strs = append(strs, FormatValue(item))
		}
		return "[" + strings.Join(strs, ", ") + "]"
	case string:
		return fmt.Sprintf("%q", val)
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Helper functions

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
