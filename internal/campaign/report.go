package campaign

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"
)

// WriteFailureReport renders failures as an aligned, human-readable table.
func WriteFailureReport(w io.Writer, failures []FailureRecord) error {
	if len(failures) == 0 {
		_, err := fmt.Fprintln(w, "No failed recipients.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Failed recipients: %d\n\n", len(failures))
	fmt.Fprintln(tw, "#\tROW\tNAME\tRECIPIENT\tREASON\tTIME\tDETAIL")
	for i, f := range failures {
		row := "-"
		if f.SourceRow > 0 {
			row = strconv.Itoa(f.SourceRow)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, row, f.DisplayName, f.RecipientID, f.Reason, f.At.Format(time.DateTime), f.Detail)
	}
	return tw.Flush()
}

// WriteFailureCSV writes failures with a header row, suitable for re-import.
func WriteFailureCSV(w io.Writer, failures []FailureRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row", "name", "phone", "reason", "timestamp", "detail"}); err != nil {
		return err
	}
	for _, f := range failures {
		rec := []string{
			strconv.Itoa(f.SourceRow),
			f.DisplayName,
			f.RecipientID,
			string(f.Reason),
			f.At.Format(time.RFC3339),
			f.Detail,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
