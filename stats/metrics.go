package stats

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "maildir_archiver"

// WriteTextfile exports the summary of the last run in the Prometheus text
// format, for node_exporter's textfile collector. The file is replaced
// atomically.
func WriteTextfile(path string, s Summary, finished time.Time, dryRun bool) error {
	reg := prometheus.NewRegistry()

	messages := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_run_messages",
		Help:      "Messages per outcome in the last run.",
	}, []string{"outcome"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_run_duration_seconds",
		Help:      "Wall time of the last run.",
	})
	dry := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_run_dry_run",
		Help:      "1 if the last run only previewed changes.",
	})

	for _, c := range []prometheus.Collector{messages, lastRun, duration, dry} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}

	messages.WithLabelValues("scanned").Set(float64(s.Scanned))
	messages.WithLabelValues("archived").Set(float64(s.Archived))
	messages.WithLabelValues("kept").Set(float64(s.Kept))
	messages.WithLabelValues("would_archive").Set(float64(s.WouldArchive))
	messages.WithLabelValues("parse_error").Set(float64(s.ParseErrors))
	messages.WithLabelValues("move_error").Set(float64(s.MoveErrors))
	lastRun.Set(float64(finished.Unix()))
	duration.Set(s.Duration.Seconds())
	if dryRun {
		dry.Set(1)
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
