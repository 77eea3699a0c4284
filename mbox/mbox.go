// Package mbox reads the archives written by the file sink.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/maildir-archiver/sink"
)

const fromLinePrefix = "From "

// StripFromLine removes a leading mbox From_ line from raw.
func StripFromLine(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte(fromLinePrefix)) {
		return raw
	}
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		return raw[i+1:]
	}
	return nil
}

// Message is a single archived message.
type Message struct {
	Header mail.Header
	Body   []byte
}

// Date returns the parsed Date header, or the zero time.
func (m *Message) Date() time.Time {
	t, err := m.Header.Date()
	if err != nil {
		return time.Time{}
	}
	return t
}

func (m *Message) Subject() string {
	s, err := m.Header.Subject()
	if err != nil {
		return m.Header.Get("Subject")
	}
	return s
}

// Info summarizes an archive.
type Info struct {
	Messages  int
	Undecoded int
	Oldest    time.Time
	Newest    time.Time
}

func (i *Info) add(t time.Time) {
	if t.IsZero() {
		return
	}
	if i.Oldest.IsZero() || t.Before(i.Oldest) {
		i.Oldest = t
	}
	if t.After(i.Newest) {
		i.Newest = t
	}
}

// Open returns a reader over the decompressed archive at path. The codec is
// chosen by the file name suffix, the same way the sink chose it.
func Open(path string) (io.ReadCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("archive path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	dec, err := sink.CodecFor(path).NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("decode archive %s: %w", path, err)
	}
	return &archiveReader{ReadCloser: dec, file: file}, nil
}

type archiveReader struct {
	io.ReadCloser
	file *os.File
}

func (a *archiveReader) Close() error {
	return errors.Join(a.ReadCloser.Close(), a.file.Close())
}

// Read iterates through the messages of the archive at path, calling the
// provided callback for each message. Messages whose header cannot be parsed
// are skipped.
func Read(path string, callback func(m *Message) error) error {
	rc, err := Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = readMessages(rc, callback)
	return err
}

// Inspect counts the messages of the archive at path and the range of their
// Date headers.
func Inspect(path string) (Info, error) {
	rc, err := Open(path)
	if err != nil {
		return Info{}, err
	}
	defer rc.Close()

	var info Info
	undecoded, err := readMessages(rc, func(m *Message) error {
		info.Messages++
		info.add(m.Date())
		return nil
	})
	info.Undecoded = undecoded
	info.Messages += undecoded
	return info, err
}

// CountMessages counts the total number of messages in an archive.
func CountMessages(path string) (int, error) {
	rc, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	reader := mboxlib.NewReader(rc)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Just consume the message without parsing
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, fmt.Errorf("message %d: %w", count, err)
		}
		count++
	}
}

func readMessages(r io.Reader, callback func(m *Message) error) (undecoded int, err error) {
	reader := mboxlib.NewReader(r)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return undecoded, nil
			}
			return undecoded, fmt.Errorf("message %d: %w", idx, err)
		}

		msg, err := parse(msgReader)
		if err != nil {
			// try to continue
			undecoded++
			continue
		}

		if err := callback(msg); err != nil {
			return undecoded, err
		}
	}
}

func parse(r io.Reader) (*Message, error) {
	br := bufio.NewReader(r)
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	return &Message{Header: mail.Header{Header: message.Header{Header: h}}, Body: body}, nil
}
