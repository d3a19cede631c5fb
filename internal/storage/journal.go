package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/rowcache/internal/model"
)

// Journal operations.
const (
	JournalInsert = "insert"
	JournalUpdate = "update"
	JournalDelete = "delete"
)

// maxJournalLine bounds a single journal line.
const maxJournalLine = 4 * 1024 * 1024

// JournalEntry records one change acknowledged by storage. Entries written
// by the same push share a Batch.
type JournalEntry struct {
	Batch  string        `json:"batch"`
	Op     string        `json:"op"`
	ID     string        `json:"id"`
	Record *model.Record `json:"record,omitempty"`
	At     time.Time     `json:"at"`
	Actor  string        `json:"actor"`
}

// NewBatch returns a fresh batch identifier.
func NewBatch() string {
	return uuid.NewString()
}

// Journal is an append-only JSONL log of synchronized changes for one table.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal returns the journal stored at path. The file is created on
// first append.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes entries to the end of the journal and syncs the file.
func (j *Journal) Append(entries ...JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	var buf []byte
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal journal entry: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return f.Close()
}

// ReadAll reads every entry in the journal, oldest first.
// Returns an empty slice if the journal doesn't exist.
func (j *Journal) ReadAll() ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []JournalEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	entries := []JournalEntry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse journal entry at line %d: %w", lineNum, err)
		}
		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	return entries, nil
}

// ReadBatch returns the entries written under batch.
func (j *Journal) ReadBatch(batch string) ([]JournalEntry, error) {
	all, err := j.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []JournalEntry
	for _, e := range all {
		if e.Batch == batch {
			out = append(out, e)
		}
	}
	return out, nil
}
