package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/maildir-archiver/filter"
	"github.com/dhcgn/maildir-archiver/maildir"
	"github.com/dhcgn/maildir-archiver/policy"
	"github.com/dhcgn/maildir-archiver/runner"
	"github.com/dhcgn/maildir-archiver/stats"
)

var (
	reportDir     string
	topN          int
	statsAge      int
	statsNew      bool
	protectHeader []string
	protectBody   []string
	onlyHeader    []string
	onlyBody      []string
)

var headersToTrack = []string{"From", "To", "Subject"}

type ageBucket struct {
	Label string
	Max   time.Duration
	Count int
}

const day = 24 * time.Hour

func newAgeBuckets() []ageBucket {
	return []ageBucket{
		{Label: "< 7 days", Max: 7 * day},
		{Label: "7-30 days", Max: 30 * day},
		{Label: "30-90 days", Max: 90 * day},
		{Label: "90-365 days", Max: 365 * day},
		{Label: "> 1 year", Max: -1},
	}
}

// maildirStats aggregates a maildir the way a run would see it.
type maildirStats struct {
	now        time.Time
	policy     policy.Policy
	includeNew bool
	filter     *filter.Filter

	Total       int
	InNew       int
	Seen        int
	Flagged     int
	ParseErrors int
	WouldRetire int
	Protected   int
	Buckets     []ageBucket
	counter     map[string]map[string]int
}

func newMaildirStats(now time.Time, ageDays int, includeNew bool, f *filter.Filter) *maildirStats {
	counter := make(map[string]map[string]int)
	for _, h := range headersToTrack {
		counter[h] = make(map[string]int)
	}
	return &maildirStats{
		now:        now,
		policy:     policy.New(now, ageDays, includeNew),
		includeNew: includeNew,
		filter:     f,
		Buckets:    newAgeBuckets(),
		counter:    counter,
	}
}

func (s *maildirStats) add(entry maildir.Entry, inNew bool) {
	s.Total++
	if inNew {
		s.InNew++
	}
	if entry.Seen() {
		s.Seen++
	}
	if entry.Flagged() {
		s.Flagged++
	}

	d, h, err := runner.ResolveHeader(entry)
	if err != nil {
		s.ParseErrors++
		return
	}

	age := s.now.Sub(d.Time())
	for i := range s.Buckets {
		if s.Buckets[i].Max < 0 || age < s.Buckets[i].Max {
			s.Buckets[i].Count++
			break
		}
	}

	for _, name := range headersToTrack {
		value := strings.TrimSpace(h.Get(name))
		if name == "Subject" {
			value = d.Subject
		}
		if value != "" {
			s.counter[name][value]++
		}
	}

	if inNew && !s.includeNew {
		return
	}
	if !s.policy.ShouldRetire(d) {
		return
	}
	allowed, _, err := s.filter.AllowsFile(d.Path)
	switch {
	case err != nil:
		s.ParseErrors++
	case allowed:
		s.WouldRetire++
	default:
		s.Protected++
	}
}

func (s *maildirStats) scan(dir *maildir.Dir) error {
	for e, err := range dir.Cur() {
		if err != nil {
			return err
		}
		s.add(e, false)
	}
	for e, err := range dir.New() {
		if err != nil {
			return err
		}
		s.add(e, true)
	}
	return nil
}

func (s *maildirStats) print(w io.Writer, ageDays int) {
	fmt.Fprintf(w, "Messages: %d (new/: %d, seen: %d, flagged: %d, parse errors: %d)\n\n",
		s.Total, s.InNew, s.Seen, s.Flagged, s.ParseErrors)

	fmt.Fprintln(w, "Age:")
	for _, b := range s.Buckets {
		fmt.Fprintf(w, "  %-12s %d\n", b.Label, b.Count)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Would retire at --age %d: %d", ageDays, s.WouldRetire)
	if s.filter.Active() {
		fmt.Fprintf(w, " (kept by filter: %d)", s.Protected)
	}
	fmt.Fprint(w, "\n\n")
}

var statsCmd = &cobra.Command{
	Use:   "stats [maildir]",
	Short: "Analyse the maildir and show statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := maildir.Open(args[0])
		if err != nil {
			return err
		}

		f, err := filter.New(filter.Options{
			OnlyHeader:    onlyHeader,
			OnlyBody:      onlyBody,
			ProtectHeader: protectHeader,
			ProtectBody:   protectBody,
		})
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}

		fmt.Println("Analyzing maildir:", dir.Path())

		s := newMaildirStats(time.Now(), statsAge, statsNew, f)
		if err := s.scan(dir); err != nil {
			return fmt.Errorf("error reading maildir: %w", err)
		}

		out := cmd.OutOrStdout()
		s.print(out, statsAge)
		for _, header := range headersToTrack {
			fmt.Printf("Top %d %s:\n", topN, header)
			stats.PrettyPrintTop(s.counter[header], topN)
			fmt.Println()
		}

		if err := saveCSVReports(s.counter, headersToTrack, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("\nReports saved to directory: %s\n", reportDir)

		return nil
	},
}

func init() {
	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	statsCmd.Flags().IntVarP(&statsAge, "age", "A", 30, "Age in days used for the would-retire count")
	statsCmd.Flags().BoolVarP(&statsNew, "new", "n", false, "Count unread messages as retirable too")
	statsCmd.Flags().StringArrayVar(&protectHeader, "protect-header", nil, "Regex on message headers; matching messages are never retired (mutually exclusive with only flags)")
	statsCmd.Flags().StringArrayVar(&protectBody, "protect-body", nil, "Regex on message bodies; matching messages are never retired (mutually exclusive with only flags)")
	statsCmd.Flags().StringArrayVar(&onlyHeader, "only-header", nil, "Regex on message headers; only matching messages are retired (mutually exclusive with protect flags)")
	statsCmd.Flags().StringArrayVar(&onlyBody, "only-body", nil, "Regex on message bodies; only matching messages are retired (mutually exclusive with protect flags)")
	rootCmd.AddCommand(statsCmd)
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write data for each header category to a separate file
	for _, header := range headers {
		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(header))
		filePath := filepath.Join(dir, filename)

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		for _, p := range stats.Top(counter[header], limit) {
			if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeHeaderName(header string) string {
	// Convert to lowercase and replace invalid filename chars
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
