package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Outcome string

const (
	// OutcomeArchived: written to the sink and removed from the store.
	OutcomeArchived Outcome = "archived"
	// OutcomeDeleteFailed: written to the sink but still present in the store.
	OutcomeDeleteFailed Outcome = "delete_failed"
)

// Record describes one retired message.
type Record struct {
	RunID     string    `json:"run_id"`
	MessageID string    `json:"message_id"`
	Hash      string    `json:"hash"`
	Subject   string    `json:"subject,omitempty"`
	Date      string    `json:"date,omitempty"`
	Target    string    `json:"target"`
	Outcome   Outcome   `json:"outcome"`
	RetiredAt time.Time `json:"retired_at"`
}

// Journal keeps track of retired messages across runs.
type Journal interface {
	Record(rec Record) error
	// Flush persists every record written so far.
	Flush() error
	Snapshot() Snapshot
	Close() error
}

type Snapshot struct {
	Archived     int
	DeleteFailed int
}

func (s *Snapshot) add(o Outcome) {
	switch o {
	case OutcomeArchived:
		s.Archived++
	case OutcomeDeleteFailed:
		s.DeleteFailed++
	}
}

// Hash returns the content hash stored in records.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type MemoryJournal struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryJournal) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records...)
}

func (m *MemoryJournal) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Snapshot
	for _, rec := range m.records {
		s.add(rec.Outcome)
	}
	return s
}

func (m *MemoryJournal) Flush() error {
	return nil
}

func (m *MemoryJournal) Close() error {
	return nil
}

// FileJournal appends records as JSON lines.
type FileJournal struct {
	path     string
	writer   *bufio.Writer
	file     *os.File
	mu       sync.Mutex
	snapshot Snapshot
}

func NewFileJournal(path string) (*FileJournal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is empty")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal for append: %w", err)
	}

	return &FileJournal{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// Record appends rec. Records stay buffered until Flush or Close.
func (f *FileJournal) Record(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return fmt.Errorf("journal %s is closed", f.path)
	}
	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	f.snapshot.add(rec.Outcome)
	return nil
}

// Snapshot counts the records written by this journal instance.
func (f *FileJournal) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

// Flush writes any buffered data to the underlying file.
func (f *FileJournal) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (f *FileJournal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}

	var firstErr error
	if err := f.writer.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	f.file = nil

	return firstErr
}

// ReadJournal loads every record of the journal at path.
func ReadJournal(path string) ([]Record, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	return records, nil
}

// Summarize counts records per outcome.
func Summarize(records []Record) Snapshot {
	var s Snapshot
	for _, rec := range records {
		s.add(rec.Outcome)
	}
	return s
}
