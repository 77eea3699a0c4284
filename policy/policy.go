// Package policy decides whether a resolved message is old enough to retire.
package policy

import (
	"math"
	"time"

	"github.com/dhcgn/maildir-archiver/model"
)

const secondsPerDay = 24 * 60 * 60

// Policy is fixed for the duration of a run.
type Policy struct {
	// Cutoff is the newest message timestamp (unix seconds) that still counts as old.
	Cutoff int64
	// RequireSeen restricts retirement to messages carrying the seen flag.
	RequireSeen bool
}

// New builds the policy for a run started at now. Including unread messages
// lifts the seen requirement for the whole run.
func New(now time.Time, ageDays int, includeNew bool) Policy {
	return Policy{
		Cutoff:      cutoff(now.Unix(), int64(ageDays)),
		RequireSeen: !includeNew,
	}
}

// MaxAgeDays is the largest age whose cutoff does not reach before the Unix epoch.
func MaxAgeDays(now time.Time) int {
	return int(now.Unix() / secondsPerDay)
}

// cutoff saturates instead of wrapping around for out of range ages.
func cutoff(now, ageDays int64) int64 {
	const limit = math.MaxInt64 / secondsPerDay
	switch {
	case ageDays > limit:
		return math.MinInt64
	case ageDays < -limit:
		return math.MaxInt64
	}
	age := ageDays * secondsPerDay
	c := now - age
	if age > 0 && c > now {
		return math.MinInt64
	}
	if age < 0 && c < now {
		return math.MaxInt64
	}
	return c
}

// ShouldRetire reports whether d qualifies for retirement. Flagged messages never do.
func (p Policy) ShouldRetire(d model.Descriptor) bool {
	if d.ResolvedAt > p.Cutoff {
		return false
	}
	if p.RequireSeen && !d.Seen {
		return false
	}
	return !d.Flagged
}

// CutoffTime returns Cutoff as a time.Time.
func (p Policy) CutoffTime() time.Time {
	return time.Unix(p.Cutoff, 0)
}
