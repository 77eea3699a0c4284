package progress

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/maildir-archiver/stats"
)

// Bar manages a progress bar for tracking message processing.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	scanned int
	mu      sync.Mutex
	enabled bool
}

// New creates a new progress bar if enabled and logLevel is "info". total is
// the number of messages the run will visit.
func New(total int, enabled bool, logLevel string) *Bar {
	enabled = enabled && logLevel == "info"

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Scanning maildir").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Messages to scan: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled && b.pb != nil
}

// Observe advances the bar on every scanned message.
func (b *Bar) Observe(evt stats.Event) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.scanned++
		if b.scanned <= b.total {
			b.pb.Increment()
		}

		if evt.MessageID != "" {
			b.pb.UpdateTitle("Processing: " + truncate(evt.MessageID, 40))
		}
	case stats.EventTypeParseError, stats.EventTypeMoveError:
		// Show error messages above the progress bar
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Messages may have vanished between counting and scanning.
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	b.pb.Stop()
	pterm.Success.Println("Processing complete!")
}

// PrintSummary prints the end-of-run counts.
func PrintSummary(s stats.Summary, dryRun bool) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", s.Duration)
	pterm.Info.Printf("Scanned: %d\n", s.Scanned)
	pterm.Info.Printf("Archived: %d\n", s.Archived)
	pterm.Info.Printf("Kept: %d\n", s.Kept)
	if dryRun {
		pterm.Info.Printf("Would archive (dry run): %d\n", s.WouldArchive)
	}
	if s.ParseErrors > 0 {
		pterm.Warning.Printf("Parse errors: %d\n", s.ParseErrors)
	}
	if s.MoveErrors > 0 {
		pterm.Warning.Printf("Move errors: %d\n", s.MoveErrors)
	}
	if s.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", s.LastError)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
