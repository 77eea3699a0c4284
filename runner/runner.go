package runner

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dhcgn/maildir-archiver/filter"
	"github.com/dhcgn/maildir-archiver/maildir"
	"github.com/dhcgn/maildir-archiver/model"
	"github.com/dhcgn/maildir-archiver/policy"
	"github.com/dhcgn/maildir-archiver/state"
	"github.com/dhcgn/maildir-archiver/stats"
)

// Store lists and deletes messages of the live mailbox.
type Store interface {
	List(includeNew bool) iter.Seq2[maildir.Entry, error]
	Delete(id string) error
}

// Transformer produces the bytes written to the sink for the message at path.
type Transformer interface {
	Transform(ctx context.Context, path string) ([]byte, error)
}

// Sink receives retired messages.
type Sink interface {
	Write(ctx context.Context, d model.Descriptor, raw []byte) error
	Close() error
}

type Options struct {
	// Confirm applies changes. Without it the run only reports what it would do.
	Confirm    bool
	IncludeNew bool
	// Target names the sink in journal records.
	Target string
	RunID  string
}

type Runner struct {
	store       Store
	policy      policy.Policy
	transformer Transformer
	sink        Sink
	opts        Options
	logger      *slog.Logger

	filter    *filter.Filter
	journal   state.Journal
	observers []stats.Observer
	now       func() time.Time
}

func New(store Store, pol policy.Policy, transformer Transformer, sink Sink, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		store:       store,
		policy:      pol,
		transformer: transformer,
		sink:        sink,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// WithFilter adds protect/only rules on top of the retention policy.
func (r *Runner) WithFilter(f *filter.Filter) *Runner {
	r.filter = f
	return r
}

// WithJournal records every retired message in j. Dry runs never write to it.
func (r *Runner) WithJournal(j state.Journal) *Runner {
	r.journal = j
	return r
}

// Observe registers o for every event of the run.
func (r *Runner) Observe(o stats.Observer) *Runner {
	r.observers = append(r.observers, o)
	return r
}

// Run visits every message once and closes the sink afterwards. Per-message
// failures are counted in the summary; the returned error only reports a sink
// that could not be finalized.
func (r *Runner) Run(ctx context.Context) (summary stats.Summary, err error) {
	since := r.now()
	collector := stats.NewCollector()
	emit := func(evt stats.Event) {
		collector.Observe(evt)
		for _, o := range r.observers {
			o.Observe(evt)
		}
	}

	defer func() {
		if cerr := r.sink.Close(); cerr != nil {
			err = fmt.Errorf("finalize sink: %w", cerr)
		}
		summary = collector.Snapshot()
		summary.Duration = time.Since(since)
		if err != nil {
			r.logger.Error("run failed", "duration", summary.Duration, "err", err)
			return
		}
		r.logger.Info("run completed", "duration", summary.Duration)
	}()

	r.logger.Debug("run started",
		"runId", r.opts.RunID,
		"cutoff", r.policy.CutoffTime(),
		"requireSeen", r.policy.RequireSeen,
		"confirm", r.opts.Confirm)

	for entry, lerr := range r.store.List(r.opts.IncludeNew) {
		if lerr != nil {
			r.logger.Error("failed to list messages", "err", lerr)
			emit(stats.Event{Type: stats.EventTypeParseError, Err: lerr})
			continue
		}
		emit(stats.Event{Type: stats.EventTypeScanned, MessageID: entry.ID})
		emit(r.process(ctx, entry))
	}

	return summary, err
}

func (r *Runner) process(ctx context.Context, entry maildir.Entry) stats.Event {
	d, err := Resolve(entry)
	if err != nil {
		err = fmt.Errorf("failed to parse email %s: %w", entry.ID, err)
		r.logger.Error("parse error", "id", entry.ID, "err", err)
		return stats.Event{Type: stats.EventTypeParseError, MessageID: entry.ID, Err: err}
	}

	if !r.policy.ShouldRetire(d) {
		return stats.Event{Type: stats.EventTypeKept, MessageID: d.ID}
	}

	allowed, reason, err := r.filter.AllowsFile(d.Path)
	if err != nil {
		err = fmt.Errorf("failed to parse email %s: %w", d.ID, err)
		r.logger.Error("parse error", "id", d.ID, "err", err)
		return stats.Event{Type: stats.EventTypeParseError, MessageID: d.ID, Err: err}
	}
	if !allowed {
		r.logger.Debug("kept by filter", "message", d.String(), "reason", reason)
		return stats.Event{Type: stats.EventTypeKept, MessageID: d.ID}
	}

	if !r.opts.Confirm {
		r.logger.Info("would archive", "message", d.String())
		return stats.Event{Type: stats.EventTypeWouldArchive, MessageID: d.ID}
	}

	r.logger.Info("archive", "message", d.String())
	if err := r.retire(ctx, d); err != nil {
		r.logger.Error("move error", "id", d.ID, "date", d.Date, "subject", d.Subject, "err", err)
		return stats.Event{Type: stats.EventTypeMoveError, MessageID: d.ID, Err: err}
	}
	return stats.Event{Type: stats.EventTypeArchived, MessageID: d.ID}
}

// retire writes d to the sink and deletes it from the store only once the
// write has succeeded.
func (r *Runner) retire(ctx context.Context, d model.Descriptor) error {
	raw, err := r.transformer.Transform(ctx, d.Path)
	if err != nil {
		return fmt.Errorf("failed to move mail %s: %w", d, err)
	}
	if err := r.sink.Write(ctx, d, raw); err != nil {
		return fmt.Errorf("failed to move mail %s: %w", d, err)
	}

	outcome := state.OutcomeArchived
	derr := r.store.Delete(d.ID)
	if derr != nil {
		outcome = state.OutcomeDeleteFailed
		derr = fmt.Errorf("failed to delete mail %s: %w", d, derr)
	}
	r.record(d, raw, outcome)
	return derr
}

func (r *Runner) record(d model.Descriptor, raw []byte, outcome state.Outcome) {
	if r.journal == nil {
		return
	}
	rec := state.Record{
		RunID:     r.opts.RunID,
		MessageID: d.ID,
		Hash:      state.Hash(raw),
		Subject:   d.Subject,
		Date:      d.Date,
		Target:    r.opts.Target,
		Outcome:   outcome,
		RetiredAt: r.now().UTC(),
	}
	if err := r.journal.Record(rec); err != nil {
		r.logger.Warn("failed to journal message", "id", d.ID, "err", err)
		return
	}
	// The message is already gone from the maildir, so its record must survive a crash.
	if err := r.journal.Flush(); err != nil {
		r.logger.Warn("failed to flush journal", "id", d.ID, "err", err)
	}
}

