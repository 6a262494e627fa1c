package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"velo/internal/app"
	"velo/internal/campaign"
	"velo/internal/pacing"
)

var (
	runInput     app.Input
	runFresh     bool
	runYes       bool
	runDryRun    bool
	runScheduled bool
	runReport    string
)

// notifySignals is swapped in tests.
var notifySignals = func(c chan<- os.Signal) { signal.Notify(c, os.Interrupt, syscall.SIGTERM) }

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send the campaign to every contact in a list",
	Long: `Reads the contact list, normalises phone numbers and sends one message per
contact through the configured transport.

Saved progress for the same list is resumed automatically unless --fresh is
given. Ctrl+C stops after the message in flight; a second Ctrl+C stops waiting.`,
	Args: cobra.NoArgs,
	RunE: runCampaign,
}

func init() {
	addInputFlags(runCmd, &runInput)
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "discard saved progress and start from the first contact")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "skip the confirmation for large lists")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "simulate sends instead of using the configured transport")
	runCmd.Flags().BoolVar(&runScheduled, "scheduled", false, "wait for the next campaign.schedule activation before sending")
	runCmd.Flags().StringVar(&runReport, "report", "", "write failed recipients as CSV to this file")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	a, err := openApp(runDryRun)
	if err != nil {
		return err
	}
	defer closeApp(cmd, a)

	prep, err := a.Prepare(runInput)
	if err != nil {
		return err
	}
	writeBuildSummary(out, prep.Mapping, prep.Result)
	if prep.Result.Valid() == 0 {
		return campaign.ErrEmptyCampaign
	}

	plan := prep.Plan
	plan.Fresh = runFresh
	remaining := len(plan.Contacts)
	if !runFresh {
		cp, err := a.Engine().Resumable(ctx, plan.Identity)
		if err != nil {
			return err
		}
		if cp != nil {
			remaining = cp.Total - cp.Cursor
			fmt.Fprintf(out, "Resuming saved progress: %d/%d done (%d sent, %d failed). Use --fresh to start over.\n",
				cp.Cursor, cp.Total, cp.SuccessCount, cp.FailedCount)
		}
	}
	fmt.Fprintf(out, "Transport: %s, pacing: %s, estimated time: %s\n",
		a.Transport().Name(), a.Pacing().Mode, formatETA(pacing.Estimate(a.Pacing(), remaining)))

	if a.Engine().NeedsConfirmation(len(plan.Contacts)) {
		if !runYes {
			ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Send to %d contacts?", len(plan.Contacts)))
			if err != nil {
				return err
			}
			if !ok {
				return errAborted
			}
		}
		plan.Confirmed = true
	}

	sigs := make(chan os.Signal, 2)
	notifySignals(sigs)
	defer signal.Stop(sigs)
	go stopOnSignal(ctx, sigs, a.Engine(), cancel, cmd.ErrOrStderr())

	if err := a.Start(ctx); err != nil {
		return err
	}
	if runScheduled {
		if err := a.WaitSchedule(ctx); err != nil {
			return err
		}
	}

	sum, err := a.Run(ctx, plan)
	if err != nil {
		return err
	}
	return reportRun(cmd, sum, a.Engine().Failures())
}

// stopOnSignal turns the first signal into a graceful stop and the second
// into cancellation. Before the campaign runs, the first signal cancels.
func stopOnSignal(ctx context.Context, sigs <-chan os.Signal, eng *campaign.Engine, cancel context.CancelFunc, errOut io.Writer) {
	stopping := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if stopping {
				cancel()
				return
			}
			if err := eng.Stop(); err != nil {
				cancel()
				return
			}
			stopping = true
			fmt.Fprintln(errOut, "\nstopping after the current message; interrupt again to abort")
		}
	}
}

func reportRun(cmd *cobra.Command, sum campaign.Summary, failures []campaign.FailureRecord) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nCampaign %s: %d/%d processed, %d sent, %d failed in %s\n",
		sum.Status, sum.Cursor, sum.Total, sum.Success, sum.Failed, sum.Duration.Round(time.Second))
	if sum.Status == campaign.StatusStopped && sum.Cursor < sum.Total {
		fmt.Fprintln(out, "Progress saved. Run the same command again to continue.")
	}
	if err := campaign.WriteFailureReport(out, failures); err != nil {
		return err
	}
	if runReport == "" || len(failures) == 0 {
		return nil
	}
	f, err := os.Create(runReport)
	if err != nil {
		return err
	}
	if err := campaign.WriteFailureCSV(f, failures); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Failure report written to %s\n", runReport)
	return nil
}
