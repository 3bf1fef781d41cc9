package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// JournalEntry is one event written to the journal.
type JournalEntry struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal appends published events to a file as JSON lines.
type Journal struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// OpenJournal opens (or creates) the journal at path in append mode.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes an event to the journal.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.ServiceUnavailableError("journal")
	}

	entry := JournalEntry{
		Event:     event,
		Topic:     topic,
		Timestamp: time.Now(),
	}

	if err := j.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return j.file.Sync()
}

// ReadJournal reads entries from the journal at path that were written after
// since. If limit > 0, at most limit entries are returned. Malformed lines are
// skipped.
func ReadJournal(path string, since time.Time, limit int) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []JournalEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)

	const maxScanTokenSize = 1024 * 1024 // 1MB
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}

		if entry.Timestamp.After(since) {
			entries = append(entries, entry)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}

	return entries, nil
}

// Replay publishes journal entries written after since to b, in order.
func Replay(ctx context.Context, path string, b Bus, since time.Time) (int, error) {
	entries, err := ReadJournal(path, since, 0)
	if err != nil {
		return 0, err
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := b.Publish(ctx, entry.Topic, entry.Event); err != nil {
			return i, fmt.Errorf("failed to replay event %s: %w", entry.Event.ID, err)
		}
	}

	return len(entries), nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.encoder = nil
	if err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
