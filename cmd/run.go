package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/maildir-archiver/config"
	"github.com/dhcgn/maildir-archiver/filter"
	"github.com/dhcgn/maildir-archiver/imap"
	"github.com/dhcgn/maildir-archiver/maildir"
	"github.com/dhcgn/maildir-archiver/policy"
	"github.com/dhcgn/maildir-archiver/progress"
	"github.com/dhcgn/maildir-archiver/runner"
	"github.com/dhcgn/maildir-archiver/schedule"
	"github.com/dhcgn/maildir-archiver/sink"
	"github.com/dhcgn/maildir-archiver/state"
	"github.com/dhcgn/maildir-archiver/stats"
	"github.com/dhcgn/maildir-archiver/transform"
)

// runScheduled repeats runOnce until SIGINT or SIGTERM. A run in progress is
// always completed before the command returns.
func runScheduled(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := schedule.New(cfg.Schedule, func(ctx context.Context) {
		if err := runOnce(context.WithoutCancel(ctx), cfg, logger); err != nil {
			logger.Error("scheduled run failed", "err", err)
		}
	}, logger)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// runOnce performs a single pass over the maildir. Errors returned are fatal
// setup or finalization errors; per-message failures only show up in the
// summary.
func runOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	runID := uuid.NewString()
	logger = logger.With("run", runID)

	dir, err := maildir.Open(cfg.MaildirPath)
	if err != nil {
		return fmt.Errorf("open maildir: %w", err)
	}

	guard, err := filter.New(filter.Options{
		OnlyHeader:    cfg.OnlyHeader,
		OnlyBody:      cfg.OnlyBody,
		ProtectHeader: cfg.ProtectHeader,
		ProtectBody:   cfg.ProtectBody,
	})
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	var journal state.Journal
	if cfg.JournalPath != "" && !cfg.DryRun() {
		fj, jerr := state.NewFileJournal(cfg.JournalPath)
		if jerr != nil {
			return fmt.Errorf("journal: %w", jerr)
		}
		journal = fj
		defer func() {
			if cerr := fj.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}()
	}

	out, target, err := openSink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open the destination: %w", err)
	}

	pol := policy.New(time.Now(), cfg.AgeDays, cfg.IncludeNew)
	r := runner.New(dir, pol, newTransformer(cfg), out, runner.Options{
		Confirm:    cfg.Confirm,
		IncludeNew: cfg.IncludeNew,
		Target:     target,
		RunID:      runID,
	}, logger).WithFilter(guard)
	if journal != nil {
		r.WithJournal(journal)
	}

	var bar *progress.Bar
	if cfg.Progress {
		total, cerr := dir.Count(cfg.IncludeNew)
		if cerr != nil {
			logger.Warn("failed to count messages", "err", cerr)
		}
		bar = progress.New(total, true, cfg.LogLevel)
		if bar.Enabled() {
			r.Observe(bar)
		}
	}

	logger.Info("processing maildir",
		"dir", dir.Path(),
		"target", target,
		"cutoff", pol.CutoffTime().Format(time.RFC3339),
		"requireSeen", pol.RequireSeen,
		"filter", guard.Active())

	summary, err := r.Run(ctx)
	bar.Stop()

	stats.LogSummary(logger, summary)
	if cfg.Progress {
		progress.PrintSummary(summary, cfg.DryRun())
	}

	if cfg.MetricsFile != "" {
		if merr := stats.WriteTextfile(cfg.MetricsFile, summary, time.Now(), cfg.DryRun()); merr != nil {
			logger.Warn("failed to write metrics", "path", cfg.MetricsFile, "err", merr)
		}
	}

	return err
}

// openSink returns the destination of retired messages and its name for the
// journal. Dry runs never touch the configured destination.
func openSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (runner.Sink, string, error) {
	if cfg.DryRun() {
		return sink.Discard{}, "dry-run", nil
	}

	switch cfg.Mode() {
	case config.ModeRemove:
		return sink.Discard{}, sink.Discard{}.String(), nil
	case config.ModeIMAP:
		s, err := imap.NewSink(ctx, imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			TargetFolder:       cfg.TargetFolder,
		}, logger)
		if err != nil {
			return nil, "", err
		}
		return s, s.String(), nil
	default:
		s, err := sink.OpenFile(cfg.ArchivePath)
		if err != nil {
			return nil, "", err
		}
		return s, s.String(), nil
	}
}

func newTransformer(cfg config.Config) runner.Transformer {
	if cfg.Normalizer == config.NormalizerBuiltin {
		return &transform.Builtin{}
	}
	return transform.NewFormail(cfg.FormailPath)
}
