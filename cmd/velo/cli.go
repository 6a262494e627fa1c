package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"velo/internal/app"
	"velo/internal/contact"
)

var errAborted = errors.New("aborted")

// maxSkippedShown caps the skipped-row listing in build summaries.
const maxSkippedShown = 10

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func openApp(dryRun bool) (*app.App, error) {
	return app.New(app.Options{ConfigPath: cfgPath, DryRun: dryRun})
}

func closeApp(cmd *cobra.Command, a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: shutdown:", err)
	}
}

func addInputFlags(cmd *cobra.Command, in *app.Input) {
	f := cmd.Flags()
	f.StringVarP(&in.Path, "file", "f", "", "contact list (CSV, comma or semicolon separated)")
	f.StringVar(&in.PhoneColumn, "phone-col", "", "column holding phone numbers (auto-detected when empty)")
	f.StringVar(&in.NameColumn, "name-col", "", "column holding display names")
	f.StringVar(&in.MessageColumn, "message-col", "", "column holding per-contact messages")
	f.StringVarP(&in.DefaultMessage, "message", "m", "", "message for contacts without their own")
	_ = cmd.MarkFlagRequired("file")
}

// confirm asks a yes/no question on in. Anything but an explicit yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "ya":
		return true, nil
	}
	return false, nil
}

func writeBuildSummary(w io.Writer, m contact.Mapping, res contact.BuildResult) {
	fmt.Fprintf(w, "Columns: phone=%q name=%q message=%q\n", m.RecipientField, m.NameField, m.MessageField)
	fmt.Fprintf(w, "Contacts: %d valid of %d rows, %d skipped\n", res.Valid(), res.Total, len(res.Skipped))
	for i, s := range res.Skipped {
		if i == maxSkippedShown {
			fmt.Fprintf(w, "  ... and %d more\n", len(res.Skipped)-maxSkippedShown)
			break
		}
		fmt.Fprintf(w, "  row %d: %q %s\n", s.SourceRow, s.Raw, s.Reason)
	}
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	return d.Round(time.Second).String()
}
