package policy

import (
	"math"
	"testing"
	"time"

	"github.com/dhcgn/maildir-archiver/model"
)

func TestNew(t *testing.T) {
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

	p := New(now, 30, false)
	want := now.Add(-30 * 24 * time.Hour).Unix()
	if p.Cutoff != want {
		t.Fatalf("Cutoff = %d, want %d", p.Cutoff, want)
	}
	if !p.RequireSeen {
		t.Error("expected RequireSeen when unread messages are not included")
	}

	p = New(now, 0, true)
	if p.Cutoff != now.Unix() {
		t.Errorf("Cutoff = %d, want %d", p.Cutoff, now.Unix())
	}
	if p.RequireSeen {
		t.Error("expected RequireSeen to be relaxed when unread messages are included")
	}
}

func TestPolicy_ShouldRetire(t *testing.T) {
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	daysAgo := func(n int) int64 { return now.Add(-time.Duration(n) * 24 * time.Hour).Unix() }

	strict := New(now, 30, false)
	relaxed := New(now, 30, true)

	tests := []struct {
		name   string
		policy Policy
		desc   model.Descriptor
		want   bool
	}{
		{
			name:   "old seen unflagged",
			policy: strict,
			desc:   model.Descriptor{ResolvedAt: daysAgo(45), Seen: true},
			want:   true,
		},
		{
			name:   "exactly at cutoff",
			policy: strict,
			desc:   model.Descriptor{ResolvedAt: strict.Cutoff, Seen: true},
			want:   true,
		},
		{
			name:   "one second newer than cutoff",
			policy: strict,
			desc:   model.Descriptor{ResolvedAt: strict.Cutoff + 1, Seen: true},
			want:   false,
		},
		{
			name:   "young message",
			policy: strict,
			desc:   model.Descriptor{ResolvedAt: daysAgo(3), Seen: true},
			want:   false,
		},
		{
			name:   "old unseen with seen required",
			policy: strict,
			desc:   model.Descriptor{ResolvedAt: daysAgo(45)},
			want:   false,
		},
		{
			name:   "old unseen with unread included",
			policy: relaxed,
			desc:   model.Descriptor{ResolvedAt: daysAgo(45)},
			want:   true,
		},
		{
			name:   "old seen flagged",
			policy: strict,
			desc:   model.Descriptor{ResolvedAt: daysAgo(45), Seen: true, Flagged: true},
			want:   false,
		},
		{
			name:   "old unseen flagged with unread included",
			policy: relaxed,
			desc:   model.Descriptor{ResolvedAt: daysAgo(400), Flagged: true},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ShouldRetire(tt.desc); got != tt.want {
				t.Errorf("ShouldRetire(%+v) = %v, want %v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestPolicy_NeverRetiresNewerThanCutoffOrFlagged(t *testing.T) {
	p := Policy{Cutoff: 1_000_000, RequireSeen: false}
	for _, seen := range []bool{false, true} {
		for _, flagged := range []bool{false, true} {
			for _, ts := range []int64{0, 999_999, 1_000_000, 1_000_001, 2_000_000} {
				d := model.Descriptor{ResolvedAt: ts, Seen: seen, Flagged: flagged}
				got := p.ShouldRetire(d)
				if ts > p.Cutoff && got {
					t.Errorf("retired message newer than cutoff: %+v", d)
				}
				if flagged && got {
					t.Errorf("retired flagged message: %+v", d)
				}
				if !flagged && ts <= p.Cutoff && !got {
					t.Errorf("kept qualifying message: %+v", d)
				}
			}
		}
	}
}

func TestNew_HugeAgeNeverWraps(t *testing.T) {
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	fresh := model.Descriptor{ResolvedAt: now.Add(-time.Minute).Unix(), Seen: true}
	ancient := model.Descriptor{ResolvedAt: 0, Seen: true}

	tests := []struct {
		name    string
		ageDays int
		want    int64
	}{
		{name: "max age", ageDays: MaxAgeDays(now), want: now.Unix() % secondsPerDay},
		{name: "multiplication overflows", ageDays: 160000000000000, want: math.MinInt64},
		{name: "beyond int64 days", ageDays: math.MaxInt64, want: math.MinInt64},
		{name: "negative beyond int64 days", ageDays: math.MinInt64, want: math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(now, tt.ageDays, false)
			if p.Cutoff != tt.want {
				t.Errorf("Cutoff = %d, want %d", p.Cutoff, tt.want)
			}
			if tt.ageDays > 0 && p.ShouldRetire(fresh) {
				t.Errorf("fresh message retired with age %d", tt.ageDays)
			}
		})
	}

	if New(now, math.MaxInt64, false).ShouldRetire(ancient) {
		t.Error("expected nothing to be old enough for an age past the epoch")
	}
}
