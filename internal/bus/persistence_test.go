package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJournal_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}

	before := time.Now().Add(-time.Second)
	for _, id := range []string{"a", "b", "c"} {
		if err := journal.Append(TopicStoneIdentified, Event{ID: id, Type: TopicStoneIdentified}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := ReadJournal(path, before, 0)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ReadJournal() returned %d entries, want 3", len(entries))
	}
	if entries[0].Event.ID != "a" || entries[2].Event.ID != "c" {
		t.Errorf("entries out of order: %+v", entries)
	}
	if entries[1].Topic != TopicStoneIdentified {
		t.Errorf("Topic = %q, want %q", entries[1].Topic, TopicStoneIdentified)
	}

	limited, err := ReadJournal(path, before, 2)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d entries", len(limited))
	}

	future, _ := ReadJournal(path, time.Now().Add(time.Hour), 0)
	if len(future) != 0 {
		t.Errorf("since in future returned %d entries", len(future))
	}
}

func TestJournal_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	journal.Append("t", Event{ID: "ok"})
	journal.Close()

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	f.WriteString("{not json\n")
	f.Close()

	entries, err := ReadJournal(path, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}

func TestReadJournal_Missing(t *testing.T) {
	entries, err := ReadJournal(filepath.Join(t.TempDir(), "absent.jsonl"), time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestJournal_AppendAfterClose(t *testing.T) {
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	journal.Close()

	if err := journal.Append("t", Event{}); err == nil {
		t.Error("Append() after Close() should fail")
	}
	if err := journal.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestLoggedBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}

	inner := NewMemoryBus(nil)
	logged := NewLoggedBus(inner, journal, nil)

	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	logged.Subscribe(context.Background(), TopicStoneIdentified, func(ctx context.Context, event Event) error {
		got.Add(1)
		wg.Done()
		return nil
	})

	if err := logged.Publish(context.Background(), TopicStoneIdentified, Event{ID: "evt-1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitGroup(t, &wg)

	if err := logged.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := ReadJournal(path, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Event.ID != "evt-1" {
		t.Errorf("journal entries = %+v, want one evt-1", entries)
	}
	if got.Load() != 1 {
		t.Errorf("inner bus delivered %d events, want 1", got.Load())
	}
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	for _, id := range []string{"1", "2"} {
		journal.Append(TopicStoneIdentified, Event{ID: id})
	}
	journal.Close()

	target := NewMemoryBus(nil)
	defer target.Close()

	var wg sync.WaitGroup
	var seen sync.Map
	wg.Add(2)
	target.Subscribe(context.Background(), TopicStoneIdentified, func(ctx context.Context, event Event) error {
		seen.Store(event.ID, true)
		wg.Done()
		return nil
	})

	n, err := Replay(context.Background(), path, target, time.Time{})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Replay() = %d, want 2", n)
	}
	waitGroup(t, &wg)

	for _, id := range []string{"1", "2"} {
		if _, ok := seen.Load(id); !ok {
			t.Errorf("event %s not replayed", id)
		}
	}
}
