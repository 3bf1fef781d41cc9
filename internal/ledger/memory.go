package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// MemoryLedger is an in-process ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Register records e.
func (l *MemoryLedger) Register(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[e.ID]; ok {
		if existing.Fingerprint != e.Fingerprint {
			return errors.CollisionError(e.ID).
				WithDetail("existing_internal_id", existing.InternalID).
				WithDetail("internal_id", e.InternalID)
		}
		return nil
	}

	if e.IssuedAt.IsZero() {
		e.IssuedAt = l.now().UTC()
	}
	l.entries[e.ID] = e
	return nil
}

// Lookup returns the entry for id.
func (l *MemoryLedger) Lookup(ctx context.Context, id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return Entry{}, errors.NotFoundError("identifier " + id)
	}
	return e, nil
}

// Count returns the number of issued identifiers.
func (l *MemoryLedger) Count(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Close is a no-op.
func (l *MemoryLedger) Close() error {
	return nil
}
