package stats

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeScanned      EventType = "scanned"
	EventTypeKept         EventType = "kept"
	EventTypeArchived     EventType = "archived"
	EventTypeWouldArchive EventType = "would_archive"
	EventTypeParseError   EventType = "parse_error"
	EventTypeMoveError    EventType = "move_error"
)

// Event reports what happened to one message.
type Event struct {
	Type      EventType
	MessageID string
	Err       error
}

// Observer receives every event of a run, in order, on the run's goroutine.
type Observer interface {
	Observe(Event)
}

type Summary struct {
	Scanned      int
	Archived     int
	Kept         int
	WouldArchive int
	ParseErrors  int
	MoveErrors   int
	LastError    error
	Duration     time.Duration
}

// LogAttrs always includes archived and kept; the other counters only when
// they are non-zero.
func (s Summary) LogAttrs() []any {
	attrs := []any{
		"archived", s.Archived,
		"kept", s.Kept,
	}
	if s.WouldArchive > 0 {
		attrs = append(attrs, "wouldArchive", s.WouldArchive)
	}
	if s.ParseErrors > 0 {
		attrs = append(attrs, "parseErrors", s.ParseErrors)
	}
	if s.MoveErrors > 0 {
		attrs = append(attrs, "moveErrors", s.MoveErrors)
	}
	if s.Duration > 0 {
		attrs = append(attrs, "duration", s.Duration)
	}
	return attrs
}

// Failed reports whether any message could not be processed.
func (s Summary) Failed() bool {
	return s.ParseErrors > 0 || s.MoveErrors > 0
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Observe(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeKept:
		c.summary.Kept++
	case EventTypeArchived:
		c.summary.Archived++
	case EventTypeWouldArchive:
		c.summary.WouldArchive++
	case EventTypeParseError:
		c.summary.ParseErrors++
	case EventTypeMoveError:
		c.summary.MoveErrors++
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// LogSummary writes the end-of-run report: counts at info, error counts as
// warnings when present.
func LogSummary(logger *slog.Logger, s Summary) {
	if logger == nil {
		return
	}
	logger.Info("archived", "count", s.Archived)
	logger.Info("kept", "count", s.Kept)
	if s.WouldArchive > 0 {
		logger.Info("would archive", "count", s.WouldArchive)
	}
	if s.ParseErrors > 0 {
		logger.Warn("parse errors", "count", s.ParseErrors)
	}
	if s.MoveErrors > 0 {
		logger.Warn("move errors", "count", s.MoveErrors)
	}
	logger.Info("stats summary", s.LogAttrs()...)
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns up to limit entries ordered by descending count, ties by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
