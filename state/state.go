// Package state keeps the optional archive manifest: the Message-ID of every
// file written, so a later message that derives the same filename can be told
// apart from the one already on disk.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ManifestFile is the name of the manifest inside the state directory.
const ManifestFile = "manifest.jsonl"

type Tracker interface {
	Lookup(file string) (messageID string, ok bool)
	MarkArchived(file, messageID string) error
	Snapshot() Snapshot
	Close() error
}

type Snapshot struct {
	Archived int
}

type MemoryTracker struct {
	mu       sync.RWMutex
	archived map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{archived: make(map[string]string)}
}

func (m *MemoryTracker) Lookup(file string) (string, bool) {
	m.mu.RLock()
	messageID, ok := m.archived[file]
	m.mu.RUnlock()
	return messageID, ok
}

func (m *MemoryTracker) MarkArchived(file, messageID string) error {
	if file == "" {
		return nil
	}

	m.mu.Lock()
	m.archived[file] = messageID
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.archived)
	m.mu.RUnlock()
	return Snapshot{Archived: count}
}

func (m *MemoryTracker) Close() error { return nil }

// FileTracker persists the manifest as JSON lines so future runs see it.
type FileTracker struct {
	*MemoryTracker
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

type fileRecord struct {
	File      string `json:"file"`
	MessageID string `json:"message_id"`
}

func NewFileTracker(stateDir string) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, ManifestFile),
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	tracker.file = file
	tracker.writer = bufio.NewWriterSize(file, 64*1024)

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.File == "" {
			continue
		}

		f.mu.Lock()
		f.archived[record.File] = record.MessageID
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

func (f *FileTracker) MarkArchived(file, messageID string) error {
	if file == "" {
		return nil
	}

	f.mu.Lock()
	if existing, ok := f.archived[file]; ok && existing == messageID {
		f.mu.Unlock()
		return nil
	}
	f.archived[file] = messageID
	f.mu.Unlock()

	data, err := json.Marshal(fileRecord{File: file, MessageID: messageID})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered records to the underlying file.
func (f *FileTracker) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.file == nil {
		return nil
	}

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
