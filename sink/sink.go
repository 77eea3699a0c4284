// Package sink holds the destinations retired messages are written to.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dhcgn/maildir-archiver/model"
)

// Discard accepts and drops every message.
type Discard struct{}

func (Discard) Write(context.Context, model.Descriptor, []byte) error { return nil }
func (Discard) Close() error                                            { return nil }
func (Discard) String() string                                          { return "discard" }

// File appends messages to a single archive file, compressing them when the
// file name carries a known suffix.
type File struct {
	path  string
	codec Codec
	file  *os.File
	enc   flushWriteCloser
	// out is enc when compressing, file otherwise.
	out    io.Writer
	closed bool
}

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// OpenFile opens path for appending, creating it when absent. Existing
// content is never truncated.
func OpenFile(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("archive path is empty")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	s := &File{path: path, codec: CodecFor(path), file: f, out: f}
	if s.codec != CodecNone {
		enc, err := s.codec.newWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%s encoder for %s: %w", s.codec, path, err)
		}
		s.enc = enc
		s.out = enc
	}
	return s, nil
}

// Write appends raw and, for compressed archives, flushes the encoder so the
// bytes have been handed to the OS before Write returns.
func (s *File) Write(_ context.Context, d model.Descriptor, raw []byte) error {
	if s.closed {
		return fmt.Errorf("archive %s is closed", s.path)
	}
	if _, err := s.out.Write(raw); err != nil {
		return fmt.Errorf("append %s to %s: %w", d.ID, s.path, err)
	}
	if s.enc != nil {
		if err := s.enc.Flush(); err != nil {
			return fmt.Errorf("flush %s to %s: %w", d.ID, s.path, err)
		}
	}
	return nil
}

// Close finalizes the compressed stream trailer and closes the file. It is
// safe to call more than once.
func (s *File) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finish %s stream: %w", s.codec, err))
		}
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close archive %s: %w", s.path, err))
	}
	return errors.Join(errs...)
}

func (s *File) Path() string {
	return s.path
}

func (s *File) String() string {
	return s.path
}
