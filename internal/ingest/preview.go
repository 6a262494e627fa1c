package ingest

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const previewCell = 32

// WritePreview prints the headers and up to n rows as an aligned table.
func WritePreview(w io.Writer, t Table, n int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	for i, row := range t.Rows {
		if i >= n {
			break
		}
		cells := make([]string, len(t.Headers))
		for j, h := range t.Headers {
			cells[j] = clip(strings.ReplaceAll(row[h], "\n", " "), previewCell)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows, %d columns)\n", len(t.Rows), len(t.Headers))
	return err
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
