package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/payment-relay/internal/order"
)

// Entry is one confirmation that could not be delivered downstream.
type Entry struct {
	ID         string             `json:"id"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Payload    order.Confirmation `json:"payload"`
}

// FileLog is an append-only JSON array on disk. Each append rewrites the file
// through a temp file and rename so readers never observe a partial array.
type FileLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileLog returns a log writing to path.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path, now: time.Now}
}

// Path returns the file the log writes to.
func (l *FileLog) Path() string { return l.path }

// Append adds an entry for c and returns it.
func (l *FileLog) Append(_ context.Context, c order.Confirmation) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{ID: uuid.NewString(), ReceivedAt: l.now().UTC(), Payload: c}
	entries = append(entries, entry)
	if err := l.writeLocked(entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Entries returns every entry currently in the log.
func (l *FileLog) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// readLocked loads the log. A missing file is empty. A file that does not
// decode as an entry array is copied to <path>.corrupt and treated as empty.
func (l *FileLog) readLocked() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fallback log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		_ = os.WriteFile(l.path+".corrupt", data, 0o600)
		return nil, nil
	}
	return entries, nil
}

func (l *FileLog) writeLocked(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fallback log: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create fallback dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp fallback log: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp fallback log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp fallback log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp fallback log: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace fallback log: %w", err)
	}
	return nil
}
