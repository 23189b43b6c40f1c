// Package journal records every extracted file as one JSON line so later
// runs can tell which payloads were already saved.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

type Entry struct {
	Run       string    `json:"run"`
	Time      time.Time `json:"time"`
	Folder    string    `json:"folder"`
	UID       uint32    `json:"uid"`
	MessageID string    `json:"message_id,omitempty"`
	Part      string    `json:"part,omitempty"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
}

type Recorder interface {
	// Seen returns the first recorded entry with the same content hash.
	Seen(sha256 string) (Entry, bool)
	Record(e Entry) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Entries int
}

type MemoryJournal struct {
	mu     sync.RWMutex
	byHash map[string]Entry
	count  int
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{byHash: make(map[string]Entry)}
}

func (m *MemoryJournal) Seen(sha256 string) (Entry, bool) {
	if sha256 == "" {
		return Entry{}, false
	}

	m.mu.RLock()
	e, ok := m.byHash[sha256]
	m.mu.RUnlock()
	return e, ok
}

func (m *MemoryJournal) Record(e Entry) error {
	m.mu.Lock()
	m.add(e)
	m.mu.Unlock()
	return nil
}

// add requires m.mu held.
func (m *MemoryJournal) add(e Entry) {
	m.count++
	if e.SHA256 == "" {
		return
	}
	if _, exists := m.byHash[e.SHA256]; !exists {
		m.byHash[e.SHA256] = e
	}
}

func (m *MemoryJournal) Snapshot() Snapshot {
	m.mu.RLock()
	count := m.count
	m.mu.RUnlock()
	return Snapshot{Entries: count}
}

// FileJournal persists entries to a JSONL file and loads earlier runs on open.
type FileJournal struct {
	*MemoryJournal
	path    string
	persist bool
	writer  *bufio.Writer
	file    afero.File
	writeMu sync.Mutex
}

func Open(fsys afero.Fs, path string, persist bool) (*FileJournal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is empty")
	}

	j := &FileJournal{
		MemoryJournal: NewMemoryJournal(),
		path:          filepath.Clean(path),
		persist:       persist,
	}

	if err := j.load(fsys); err != nil {
		return nil, err
	}

	if persist {
		if err := fsys.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		file, err := fsys.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open journal for append: %w", err)
		}
		j.file = file
		j.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return j, nil
}

func (j *FileJournal) Path() string {
	return j.path
}

func (j *FileJournal) load(fsys afero.Fs) error {
	file, err := fsys.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return fmt.Errorf("parse journal line %d: %w", line, err)
		}

		j.mu.Lock()
		j.add(e)
		j.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}

func (j *FileJournal) Record(e Entry) error {
	j.mu.Lock()
	j.add(e)
	j.mu.Unlock()

	if !j.persist {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries to the file.
func (j *FileJournal) Flush() error {
	if !j.persist || j.writer == nil {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *FileJournal) Close() error {
	if !j.persist || j.file == nil {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	var firstErr error
	if err := j.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	j.file = nil
	return firstErr
}
