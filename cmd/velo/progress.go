package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"velo/internal/campaign"
)

var (
	statusJSON   bool
	resetYes     bool
	exportFormat string
	exportOut    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved progress of an unfinished campaign",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard saved progress so the next run starts from the beginning",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var exportCmd = &cobra.Command{
	Use:   "export-failures",
	Short: "Export failed recipients recorded in saved progress",
	Args:  cobra.NoArgs,
	RunE:  runExportFailures,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the checkpoint as JSON")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	exportCmd.Flags().StringVar(&exportFormat, "format", "text", "output format: text or csv")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to this file instead of stdout")
}

func loadCheckpoint(cmd *cobra.Command) (*campaign.Checkpoint, error) {
	a, err := openApp(true)
	if err != nil {
		return nil, err
	}
	defer closeApp(cmd, a)
	return a.Store().Load(cmdContext(cmd))
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cp, err := loadCheckpoint(cmd)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintln(out, "No saved progress.")
		return nil
	}
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	}
	writeCheckpoint(out, cp)
	return nil
}

func writeCheckpoint(w io.Writer, cp *campaign.Checkpoint) {
	fmt.Fprintf(w, "Run:       %s\n", cp.RunID)
	fmt.Fprintf(w, "Source:    %s (%s)\n", cp.Identity.Source, cp.Identity.Short())
	fmt.Fprintf(w, "Status:    %s\n", cp.Status)
	fmt.Fprintf(w, "Progress:  %d/%d (%d sent, %d failed, %d remaining)\n",
		cp.Cursor, cp.Total, cp.SuccessCount, cp.FailedCount, cp.Total-cp.Cursor)
	fmt.Fprintf(w, "Started:   %s\n", cp.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Updated:   %s\n", cp.UpdatedAt.Local().Format(time.DateTime))
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	ctx := cmdContext(cmd)
	cp, err := a.Store().Load(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintln(out, "No saved progress.")
		return nil
	}
	if !resetYes {
		ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Discard progress %d/%d of %s?", cp.Cursor, cp.Total, cp.Identity.Source))
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}
	if err := a.Engine().Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Saved progress discarded.")
	return nil
}

func runExportFailures(cmd *cobra.Command, args []string) error {
	write := campaign.WriteFailureReport
	switch strings.ToLower(exportFormat) {
	case "text", "":
	case "csv":
		write = campaign.WriteFailureCSV
	default:
		return fmt.Errorf("unknown format %q (want text or csv)", exportFormat)
	}

	cp, err := loadCheckpoint(cmd)
	if err != nil {
		return err
	}
	var failures []campaign.FailureRecord
	if cp != nil {
		failures = cp.FailedLog
	}

	if exportOut == "" {
		return write(cmd.OutOrStdout(), failures)
	}
	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	if err := write(f, failures); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d failed recipients written to %s\n", len(failures), exportOut)
	return nil
}
