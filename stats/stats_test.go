package stats

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")
	for _, evt := range []Event{
		{Type: EventTypeScanned},
		{Type: EventTypeKept},
		{Type: EventTypeScanned},
		{Type: EventTypeArchived},
		{Type: EventTypeScanned},
		{Type: EventTypeMoveError, Err: boom},
		{Type: EventTypeParseError},
		{Type: EventTypeWouldArchive},
	} {
		c.Observe(evt)
	}

	s := c.Snapshot()
	if s.Scanned != 3 || s.Kept != 1 || s.Archived != 1 || s.MoveErrors != 1 || s.ParseErrors != 1 || s.WouldArchive != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if !errors.Is(s.LastError, boom) {
		t.Errorf("LastError = %v, want %v", s.LastError, boom)
	}
	if !s.Failed() {
		t.Error("expected Failed() with errors present")
	}
}

func TestSummary_LogAttrs(t *testing.T) {
	attrs := Summary{Archived: 2, Kept: 5}.LogAttrs()
	if len(attrs) != 4 {
		t.Fatalf("expected only archived and kept, got %v", attrs)
	}

	attrs = Summary{Archived: 2, Kept: 5, ParseErrors: 1, MoveErrors: 3}.LogAttrs()
	keys := attrKeys(attrs)
	for _, key := range []string{"parseErrors", "moveErrors"} {
		if !keys[key] {
			t.Errorf("expected %s in %v", key, attrs)
		}
	}
	if keys["wouldArchive"] {
		t.Errorf("wouldArchive should be omitted when zero: %v", attrs)
	}
}

func TestLogSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogSummary(logger, Summary{Archived: 1, Kept: 2})
	out := buf.String()
	if !strings.Contains(out, "msg=archived count=1") || !strings.Contains(out, "msg=kept count=2") {
		t.Errorf("missing counts in %q", out)
	}
	if strings.Contains(out, "parse errors") || strings.Contains(out, "move errors") {
		t.Errorf("error counts should be omitted when zero: %q", out)
	}

	buf.Reset()
	LogSummary(logger, Summary{ParseErrors: 4})
	if !strings.Contains(buf.String(), `level=WARN msg="parse errors" count=4`) {
		t.Errorf("expected parse error warning, got %q", buf.String())
	}
}

func TestTop(t *testing.T) {
	top := Top(map[string]int{"a": 1, "b": 3, "c": 3, "d": 2}, 3)
	want := []Pair{{"b", 3}, {"c", 3}, {"d", 2}}
	if len(top) != len(want) {
		t.Fatalf("Top() = %v, want %v", top, want)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("Top()[%d] = %v, want %v", i, top[i], want[i])
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maildir_archiver.prom")
	s := Summary{Scanned: 10, Archived: 4, Kept: 5, ParseErrors: 1, Duration: 2 * time.Second}

	if err := WriteTextfile(path, s, time.Unix(1700000000, 0), false); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`maildir_archiver_last_run_messages{outcome="archived"} 4`,
		`maildir_archiver_last_run_messages{outcome="kept"} 5`,
		`maildir_archiver_last_run_messages{outcome="parse_error"} 1`,
		`maildir_archiver_last_run_timestamp_seconds `,
		`maildir_archiver_last_run_dry_run 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in metrics output:\n%s", want, out)
		}
	}
}

func attrKeys(attrs []any) map[string]bool {
	keys := make(map[string]bool)
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); ok {
			keys[k] = true
		}
	}
	return keys
}
