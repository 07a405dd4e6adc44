package ui

import (
	"strings"
	"text/tabwriter"
)

// Marks that start a status line.
func Tick() string  { return Success.Sprint("✓") }
func Cross() string { return Error.Sprint("✗") }
func Bang() string  { return Warning.Sprint("⚠") }
func Arrow() string { return Info.Sprint("→") }

// Table lays rows out in columns separated by at least two spaces, each
// line indented by two spaces. Trailing empty cells are dropped.
func Table(rows [][]string) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
		w.Write([]byte("  " + strings.Join(row, "\t") + "\n"))
	}
	w.Flush()
	return b.String()
}
