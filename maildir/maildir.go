// Package maildir lists and removes messages of a single Maildir folder.
//
// Messages in cur/ are considered read by the MUA, messages in new/ have not
// been picked up yet. Flags are taken from the info suffix of the file name,
// e.g. "1700000000.M1P2.host:2,FS".
package maildir

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-imap/v2"
)

const (
	infoSeparator = ":2,"
	readBatch     = 256
)

var (
	ErrNotMaildir = errors.New("not a maildir")
	ErrNotFound   = errors.New("message not found")
)

// Entry is a message file found during traversal.
type Entry struct {
	ID    string
	Path  string
	Flags []imap.Flag
}

// HasFlag reports whether the entry carries flag.
func (e Entry) HasFlag(flag imap.Flag) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (e Entry) Seen() bool    { return e.HasFlag(imap.FlagSeen) }
func (e Entry) Flagged() bool { return e.HasFlag(imap.FlagFlagged) }

// Dir is an opened Maildir folder.
type Dir struct {
	path string
	// paths remembers where traversal last saw each key so Delete can skip a scan.
	paths map[string]string
}

// Open validates that path contains cur/, new/ and tmp/.
func Open(path string) (*Dir, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotMaildir)
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("maildir %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotMaildir, path)
	}
	if !isMaildir(path) {
		return nil, fmt.Errorf("%w: %s must contain cur/, new/ and tmp/", ErrNotMaildir, path)
	}
	return &Dir{path: path, paths: make(map[string]string)}, nil
}

// Path returns the folder root.
func (d *Dir) Path() string {
	return d.path
}

// Cur yields messages already seen by a mail client.
func (d *Dir) Cur() iter.Seq2[Entry, error] {
	return d.list("cur")
}

// New yields messages not yet picked up by a mail client.
func (d *Dir) New() iter.Seq2[Entry, error] {
	return d.list("new")
}

// List yields cur/ and, when includeNew is set, new/ afterwards.
func (d *Dir) List(includeNew bool) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for e, err := range d.Cur() {
			if !yield(e, err) {
				return
			}
		}
		if !includeNew {
			return
		}
		for e, err := range d.New() {
			if !yield(e, err) {
				return
			}
		}
	}
}

// Count returns the number of message files List would yield.
func (d *Dir) Count(includeNew bool) (int, error) {
	n := 0
	for _, err := range d.List(includeNew) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Delete removes the message with the given key from cur/ or new/.
func (d *Dir) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if path, ok := d.paths[id]; ok {
		err := os.Remove(path)
		if err == nil {
			delete(d.paths, id)
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		// Renamed since traversal, e.g. a client changed its flags.
	}

	for _, sub := range []string{"cur", "new"} {
		for e, err := range d.list(sub) {
			if err != nil {
				return err
			}
			if e.ID != id {
				continue
			}
			if err := os.Remove(e.Path); err != nil {
				return fmt.Errorf("remove %s: %w", e.Path, err)
			}
			delete(d.paths, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (d *Dir) list(sub string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		dirPath := filepath.Join(d.path, sub)
		f, err := os.Open(dirPath)
		if err != nil {
			yield(Entry{}, fmt.Errorf("open %s: %w", dirPath, err))
			return
		}
		defer f.Close()

		for {
			batch, err := f.ReadDir(readBatch)
			for _, de := range batch {
				if !isMessageFile(de) {
					continue
				}
				e := parseEntry(dirPath, de.Name())
				d.paths[e.ID] = e.Path
				if !yield(e, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, fmt.Errorf("read %s: %w", dirPath, err))
				return
			}
		}
	}
}

func parseEntry(dir, name string) Entry {
	id, flags := ParseFilename(name)
	return Entry{
		ID:    id,
		Path:  filepath.Join(dir, name),
		Flags: flags,
	}
}

// ParseFilename splits a Maildir file name into its key and flags.
func ParseFilename(name string) (string, []imap.Flag) {
	idx := strings.LastIndex(name, infoSeparator)
	if idx == -1 {
		if i := strings.IndexByte(name, ':'); i != -1 {
			return name[:i], nil
		}
		return name, nil
	}

	var flags []imap.Flag
	for _, char := range name[idx+len(infoSeparator):] {
		switch char {
		case 'F':
			flags = append(flags, imap.FlagFlagged)
		case 'S':
			flags = append(flags, imap.FlagSeen)
		case 'R':
			flags = append(flags, imap.FlagAnswered)
		case 'D':
			flags = append(flags, imap.FlagDraft)
		case 'T':
			flags = append(flags, imap.FlagDeleted)
		}
	}
	return name[:idx], flags
}

func isMessageFile(de os.DirEntry) bool {
	if strings.HasPrefix(de.Name(), ".") {
		return false
	}
	return de.Type().IsRegular()
}

func isMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		info, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
