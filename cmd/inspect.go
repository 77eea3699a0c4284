package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/maildir-archiver/mbox"
	"github.com/dhcgn/maildir-archiver/state"
)

var inspectJournal string

var inspectCmd = &cobra.Command{
	Use:   "inspect [archive]",
	Short: "Count the messages of an archive and show their date range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := mbox.Inspect(args[0])
		if err != nil {
			return fmt.Errorf("error reading archive: %w", err)
		}
		printArchiveInfo(cmd.OutOrStdout(), args[0], info)

		if inspectJournal == "" {
			return nil
		}
		records, err := state.ReadJournal(inspectJournal)
		if err != nil {
			return err
		}
		printJournalSummary(cmd.OutOrStdout(), inspectJournal, records)
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectJournal, "journal", "", "Also summarize this journal")
	rootCmd.AddCommand(inspectCmd)
}

func printArchiveInfo(w io.Writer, path string, info mbox.Info) {
	fmt.Fprintf(w, "Archive: %s\n", path)
	fmt.Fprintf(w, "Messages: %d\n", info.Messages)
	if info.Undecoded > 0 {
		fmt.Fprintf(w, "Unreadable headers: %d\n", info.Undecoded)
	}
	if !info.Oldest.IsZero() {
		fmt.Fprintf(w, "Oldest: %s\n", info.Oldest.Format(time.RFC3339))
		fmt.Fprintf(w, "Newest: %s\n", info.Newest.Format(time.RFC3339))
	}
}

func printJournalSummary(w io.Writer, path string, records []state.Record) {
	snap := state.Summarize(records)
	runs := make(map[string]struct{})
	for _, rec := range records {
		runs[rec.RunID] = struct{}{}
	}

	fmt.Fprintf(w, "\nJournal: %s\n", path)
	fmt.Fprintf(w, "Runs: %d\n", len(runs))
	fmt.Fprintf(w, "Archived: %d\n", snap.Archived)
	if snap.DeleteFailed > 0 {
		fmt.Fprintf(w, "Archived but not deleted: %d\n", snap.DeleteFailed)
		for _, rec := range records {
			if rec.Outcome == state.OutcomeDeleteFailed {
				fmt.Fprintf(w, "  %s %s/%s/%s\n", rec.RetiredAt.Format(time.RFC3339), rec.MessageID, rec.Date, rec.Subject)
			}
		}
	}
}
