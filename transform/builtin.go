package transform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/maildir-archiver/mbox"
)

const defaultSender = "MAILER-DAEMON"

// Builtin is the in-process equivalent of `formail -I "Status: RO"`: it
// replaces any Status field and frames the message as an mbox entry. The
// mbox writer stores every line with an LF ending, whatever the source used.
type Builtin struct {
	// Now supplies the From_ line date when the message has no usable Date.
	Now func() time.Time
}

func (b *Builtin) Transform(_ context.Context, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// The mbox writer adds its own From_ line.
	raw = mbox.StripFromLine(raw)
	sender, date := b.envelope(raw)
	rewritten := RewriteStatus(raw)

	var buf bytes.Buffer
	w := mboxlib.NewWriter(&buf)
	mw, err := w.CreateMessage(sender, date)
	if err != nil {
		return nil, fmt.Errorf("mbox frame %s: %w", path, err)
	}
	if _, err := mw.Write(rewritten); err != nil {
		return nil, fmt.Errorf("mbox write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("mbox close %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func (b *Builtin) String() string {
	return "builtin"
}

// envelope picks the From_ line sender and date, falling back to
// MAILER-DAEMON and the current time.
func (b *Builtin) envelope(raw []byte) (string, time.Time) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return defaultSender, now()
	}
	h := mail.Header{Header: message.Header{Header: th}}

	sender := defaultSender
	if rp := strings.Trim(strings.TrimSpace(h.Get("Return-Path")), "<>"); rp != "" {
		sender = rp
	} else if from, err := h.AddressList("From"); err == nil && len(from) > 0 && from[0].Address != "" {
		sender = from[0].Address
	}

	date, err := h.Date()
	if err != nil || date.IsZero() {
		date = now()
	}
	return sender, date
}

// RewriteStatus drops every Status field from the header block and appends
// "Status: RO" right before the blank line. The returned bytes keep the
// message's line endings.
func RewriteStatus(raw []byte) []byte {
	eol := []byte("\n")
	if bytes.Contains(raw, []byte("\r\n")) {
		eol = []byte("\r\n")
	}

	var out bytes.Buffer
	out.Grow(len(raw) + len(StatusHeader) + 2)

	r := bufio.NewReader(bytes.NewReader(raw))
	skipping := false
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimRight(line, "\r\n")
			if len(trimmed) == 0 {
				// End of header block.
				out.WriteString(StatusHeader)
				out.Write(eol)
				out.Write(line)
				rest, _ := io.ReadAll(r)
				out.Write(rest)
				return out.Bytes()
			}
			continued := line[0] == ' ' || line[0] == '\t'
			if !continued {
				skipping = isStatusField(trimmed)
			}
			if !skipping {
				out.Write(line)
			}
		}
		if err != nil {
			break
		}
	}

	// Header-only message without a terminating blank line.
	if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
		out.Write(eol)
	}
	out.WriteString(StatusHeader)
	out.Write(eol)
	return out.Bytes()
}

func isStatusField(line []byte) bool {
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(string(line[:colon])), "Status")
}
