package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"velo/internal/app"
	"velo/internal/ingest"
	"velo/internal/pacing"
)

var (
	previewInput app.Input
	previewRows  int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show how a contact list would be sent, without sending",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

func init() {
	addInputFlags(previewCmd, &previewInput)
	previewCmd.Flags().IntVarP(&previewRows, "rows", "n", 5, "rows of the file to show")
}

func runPreview(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	prep, err := a.Prepare(previewInput)
	if err != nil {
		return err
	}
	if err := ingest.WritePreview(out, prep.Table, previewRows); err != nil {
		return err
	}
	fmt.Fprintln(out)
	writeBuildSummary(out, prep.Mapping, prep.Result)

	n := prep.Result.Valid()
	if n == 0 {
		fmt.Fprintln(out, "Nothing to send.")
		return nil
	}
	if len(prep.Plan.Contacts) > 0 {
		c := prep.Plan.Contacts[0]
		fmt.Fprintf(out, "First message to %s (%s): %q\n", c.RecipientID, c.DisplayName, c.MessageBody)
	}
	p := a.Pacing()
	fmt.Fprintf(out, "Pacing: %s, base %s, jitter %s..%s, estimated time %s\n",
		p.Mode, p.BaseDelay, p.JitterMin, p.JitterMax, formatETA(pacing.Estimate(p, n)))
	if a.Engine().NeedsConfirmation(n) {
		fmt.Fprintf(out, "%d contacts exceed campaign.max_recipients; run will ask for confirmation.\n", n)
	}
	cp, err := a.Engine().Resumable(cmdContext(cmd), prep.Plan.Identity)
	if err != nil {
		return err
	}
	if cp != nil {
		fmt.Fprintf(out, "Saved progress for this list: %d/%d done; run resumes at contact %d.\n", cp.Cursor, cp.Total, cp.Cursor+1)
	}
	return nil
}
