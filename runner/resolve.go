package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/maildir-archiver/maildir"
	"github.com/dhcgn/maildir-archiver/model"
)

var (
	ErrBrokenDate       = errors.New("broken Date header")
	ErrMalformedMessage = errors.New("can't parse mail")
)

// Resolve reads the header block of entry and builds its descriptor. Only the
// Date and Subject fields are extracted; the body is never read.
func Resolve(entry maildir.Entry) (model.Descriptor, error) {
	d, _, err := ResolveHeader(entry)
	return d, err
}

// ResolveHeader is Resolve that also returns the parsed header block.
func ResolveHeader(entry maildir.Entry) (model.Descriptor, mail.Header, error) {
	file, err := os.Open(entry.Path)
	if err != nil {
		return model.Descriptor{}, mail.Header{}, fmt.Errorf("open %s: %w", entry.Path, err)
	}
	defer file.Close()

	br := bufio.NewReader(file)
	if err := skipFromLine(br); err != nil {
		return model.Descriptor{}, mail.Header{}, fmt.Errorf("read %s: %w", entry.Path, err)
	}
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return model.Descriptor{}, mail.Header{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	header := mail.Header{Header: message.Header{Header: h}}

	date := strings.TrimSpace(header.Get("Date"))
	if date == "" {
		return model.Descriptor{}, header, fmt.Errorf("%w: missing", ErrBrokenDate)
	}
	resolved, err := header.Date()
	if err != nil {
		return model.Descriptor{}, header, fmt.Errorf("%w: %w", ErrBrokenDate, err)
	}

	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}

	return model.Descriptor{
		ID:         entry.ID,
		Path:       entry.Path,
		Subject:    subject,
		Date:       date,
		ResolvedAt: resolved.Unix(),
		Seen:       entry.Seen(),
		Flagged:    entry.Flagged(),
	}, header, nil
}

// skipFromLine consumes the mbox From_ line some delivery agents leave at the
// top of a maildir file.
func skipFromLine(br *bufio.Reader) error {
	prefix, err := br.Peek(len("From "))
	if err != nil || string(prefix) != "From " {
		return nil
	}
	if _, err := br.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
