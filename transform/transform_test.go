package transform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
)

const sampleMessage = "Return-Path: <alice@example.com>\n" +
	"From: Alice <alice@example.com>\n" +
	"Status: O\n" +
	"X-Status: \n" +
	"Date: Mon, 01 Apr 2024 10:00:00 +0000\n" +
	"Subject: quarterly report\n" +
	"\n" +
	"From the desk of Alice.\n" +
	"Status: this line is body text\n"

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRewriteStatus(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "replaces existing status",
			raw:  "Subject: a\nStatus: O\n\nbody\n",
			want: "Subject: a\nStatus: RO\n\nbody\n",
		},
		{
			name: "adds missing status",
			raw:  "Subject: a\n\nbody\n",
			want: "Subject: a\nStatus: RO\n\nbody\n",
		},
		{
			name: "keeps crlf",
			raw:  "Subject: a\r\nstatus: N\r\n\r\nbody\r\n",
			want: "Subject: a\r\nStatus: RO\r\n\r\nbody\r\n",
		},
		{
			name: "drops folded status continuation",
			raw:  "Status: O\n  continued\nSubject: a\n\nbody\n",
			want: "Subject: a\nStatus: RO\n\nbody\n",
		},
		{
			name: "leaves body untouched",
			raw:  "Subject: a\n\nStatus: O\n",
			want: "Subject: a\nStatus: RO\n\nStatus: O\n",
		},
		{
			name: "header only",
			raw:  "Subject: a",
			want: "Subject: a\nStatus: RO\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(RewriteStatus([]byte(tt.raw)))
			if got != tt.want {
				t.Errorf("RewriteStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuiltin_Transform(t *testing.T) {
	path := writeTemp(t, sampleMessage)
	b := &Builtin{Now: func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }}

	out, err := b.Transform(context.Background(), path)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if !bytes.HasPrefix(out, []byte("From alice@example.com ")) {
		t.Fatalf("expected mbox From_ line, got %q", firstLine(out))
	}
	if !strings.Contains(firstLine(out), "2024") {
		t.Errorf("expected From_ line to carry the message date, got %q", firstLine(out))
	}

	r := mboxlib.NewReader(bytes.NewReader(out))
	msg, err := r.NextMessage()
	if err != nil {
		t.Fatalf("NextMessage() error = %v", err)
	}
	body, err := io.ReadAll(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte("\nStatus: RO\n\n")) {
		t.Errorf("expected rewritten status header before the body, got %q", out)
	}
	if bytes.Contains(out, []byte("Status: O\n")) {
		t.Errorf("expected original status header to be removed, got %q", out)
	}
	if !strings.Contains(string(body), "the desk of Alice.") {
		t.Errorf("expected body line to survive mbox escaping, got %q", body)
	}
	if _, err := r.NextMessage(); !errors.Is(err, io.EOF) {
		t.Errorf("expected a single message, got err = %v", err)
	}
}

func TestBuiltin_CRLFMessage(t *testing.T) {
	path := writeTemp(t, strings.ReplaceAll(sampleMessage, "\n", "\r\n"))
	b := &Builtin{}

	out, err := b.Transform(context.Background(), path)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if bytes.Contains(out, []byte("\r")) {
		t.Errorf("expected LF line endings in the mbox entry, got %q", out)
	}
	if !bytes.Contains(out, []byte("\nStatus: RO\n\n")) {
		t.Errorf("expected rewritten status header before the body, got %q", out)
	}
	if !bytes.Contains(out, []byte("\n>From the desk of Alice.\n")) {
		t.Errorf("expected escaped From body line, got %q", out)
	}
}

func TestBuiltin_LeadingFromLine(t *testing.T) {
	path := writeTemp(t, "From bob@example.com Mon Apr  1 10:00:00 2024\n"+sampleMessage)
	b := &Builtin{}

	out, err := b.Transform(context.Background(), path)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if !strings.HasPrefix(firstLine(out), "From alice@example.com ") {
		t.Errorf("unexpected From_ line %q", firstLine(out))
	}
	if bytes.Contains(out, []byte("From bob@example.com")) {
		t.Errorf("expected the original From_ line to be replaced, got %q", out)
	}
}

func TestBuiltin_FallbackEnvelope(t *testing.T) {
	path := writeTemp(t, "Subject: no sender\n\nbody\n")
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Builtin{Now: func() time.Time { return fixed }}

	out, err := b.Transform(context.Background(), path)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	line := firstLine(out)
	if !strings.HasPrefix(line, "From MAILER-DAEMON ") || !strings.Contains(line, "2030") {
		t.Errorf("unexpected From_ line %q", line)
	}
}

func TestBuiltin_MissingFile(t *testing.T) {
	b := &Builtin{}
	if _, err := b.Transform(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCommand_Transform(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	path := writeTemp(t, sampleMessage)

	c := &Command{Path: "cat"}
	out, err := c.Transform(context.Background(), path)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if string(out) != sampleMessage {
		t.Errorf("expected filter output to be captured in full, got %q", out)
	}
}

func TestCommand_Failure(t *testing.T) {
	path := writeTemp(t, sampleMessage)

	t.Run("non-zero exit", func(t *testing.T) {
		if _, err := exec.LookPath("false"); err != nil {
			t.Skip("false not available")
		}
		c := &Command{Path: "false"}
		out, err := c.Transform(context.Background(), path)
		if !errors.Is(err, ErrFilterFailed) {
			t.Fatalf("Transform() error = %v, want ErrFilterFailed", err)
		}
		if out != nil {
			t.Errorf("expected no output on failure, got %q", out)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		c := &Command{Path: filepath.Join(t.TempDir(), "no-such-formail")}
		if _, err := c.Transform(context.Background(), path); !errors.Is(err, ErrFilterFailed) {
			t.Fatalf("Transform() error = %v, want ErrFilterFailed", err)
		}
	})

	t.Run("missing message", func(t *testing.T) {
		c := NewFormail("")
		if _, err := c.Transform(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Fatal("expected error for missing message")
		}
	})
}

func TestNewFormail(t *testing.T) {
	c := NewFormail("")
	if c.String() != "formail -I Status: RO" {
		t.Errorf("String() = %q", c.String())
	}
	if NewFormail("/usr/bin/formail").Path != "/usr/bin/formail" {
		t.Error("expected custom path to be kept")
	}
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
