package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gradia/stoneid/internal/identify"
	"github.com/gradia/stoneid/internal/ledger"
	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/stone"
)

const sampleCSV = "internal_id,color,clarity,cut,culet_size\n123456789,G,VVS2,EX,VS\n"

func newTestWatcher(t *testing.T, inbox string) *Watcher {
	t.Helper()
	svc := identify.NewService(stone.MustGenerator(stone.DefaultGeneratorConfig()), ledger.NewMemoryLedger(), nil, nil, identify.DefaultBatchConfig())
	w, err := NewWatcher(WatcherConfig{
		Inbox:      inbox,
		BatchDelay: 20 * time.Millisecond,
		Service:    svc,
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func readResults(t *testing.T, path string) []identify.Result {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	var results []identify.Result
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("invalid result file: %v", err)
	}
	return results
}

func TestNewWatcher_Errors(t *testing.T) {
	svc := identify.NewService(stone.MustGenerator(stone.DefaultGeneratorConfig()), nil, nil, nil, identify.DefaultBatchConfig())

	if _, err := NewWatcher(WatcherConfig{Inbox: t.TempDir()}); errors.CodeOf(err) != errors.CodeConfig {
		t.Errorf("NewWatcher(no service) error = %v, want CONFIG_ERROR", err)
	}

	missing := filepath.Join(t.TempDir(), "absent")
	if _, err := NewWatcher(WatcherConfig{Inbox: missing, Service: svc}); !errors.IsInvalidInput(err) {
		t.Errorf("NewWatcher(missing inbox) error = %v, want INVALID_INPUT", err)
	}
}

func TestWatcher_ProcessFile(t *testing.T) {
	inbox := t.TempDir()
	w := newTestWatcher(t, inbox)

	path := filepath.Join(inbox, "lot-7.csv")
	writeFile(t, path, sampleCSV)

	if err := w.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}

	results := readResults(t, filepath.Join(w.Outbox(), "lot-7.ids.json"))
	if len(results) != 1 || results[0].BasicID != "d9d89e85-B" {
		t.Errorf("results = %+v", results)
	}

	n, last := w.Stats()
	if n != 1 || last.IsZero() {
		t.Errorf("Stats() = %d, %v", n, last)
	}
}

func TestWatcher_ProcessFileError(t *testing.T) {
	inbox := t.TempDir()
	w := newTestWatcher(t, inbox)

	path := filepath.Join(inbox, "broken.csv")
	writeFile(t, path, "internal_id,color\n1,G\n")

	err := w.ProcessFile(context.Background(), path)
	if !errors.IsInvalidInput(err) {
		t.Fatalf("ProcessFile() error = %v, want INVALID_INPUT", err)
	}

	data, readErr := os.ReadFile(filepath.Join(w.Outbox(), "broken.error.json"))
	if readErr != nil {
		t.Fatalf("error file missing: %v", readErr)
	}
	var report ErrorReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("invalid error file: %v", err)
	}
	if report.Code != errors.CodeInvalidInput {
		t.Errorf("report.Code = %s, want %s", report.Code, errors.CodeInvalidInput)
	}

	// Fixing the file replaces the error with a result.
	writeFile(t, path, sampleCSV)
	if err := w.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.Outbox(), "broken.error.json")); !os.IsNotExist(err) {
		t.Error("error file should be removed after success")
	}
}

func TestWatcher_Sync(t *testing.T) {
	inbox := t.TempDir()
	writeFile(t, filepath.Join(inbox, "a.csv"), sampleCSV)
	writeFile(t, filepath.Join(inbox, "notes.txt"), "not records")
	writeFile(t, filepath.Join(inbox, ".hidden.csv"), sampleCSV)
	writeFile(t, filepath.Join(inbox, "skip.csv"), sampleCSV)
	writeFile(t, filepath.Join(inbox, IgnoreFileName), "# local rules\nskip.csv\n")

	w := newTestWatcher(t, inbox)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	entries, err := os.ReadDir(w.Outbox())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.ids.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("outbox = %v, want [a.ids.json]", names)
	}

	// Up-to-date files are not processed again.
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n, _ := w.Stats(); n != 1 {
		t.Errorf("files processed = %d, want 1", n)
	}
}

func TestWatcher_Start(t *testing.T) {
	inbox := t.TempDir()
	w := newTestWatcher(t, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	// Give the watcher time to register the inbox.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(inbox, "drop.csv"), sampleCSV)

	result := filepath.Join(w.Outbox(), "drop.ids.json")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(result); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for result file")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if results := readResults(t, result); len(results) != 1 {
		t.Errorf("results = %+v", results)
	}

	w.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

// blockingIdentifier holds each batch until released or cancelled.
type blockingIdentifier struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingIdentifier() *blockingIdentifier {
	return &blockingIdentifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingIdentifier) IdentifyBatch(ctx context.Context, recs []stone.Record) ([]identify.Result, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return []identify.Result{{InternalID: recs[0].InternalID}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func startBlockedWatcher(t *testing.T, ctx context.Context) (*Watcher, *blockingIdentifier, <-chan error) {
	t.Helper()
	inbox := t.TempDir()
	svc := newBlockingIdentifier()
	w, err := NewWatcher(WatcherConfig{Inbox: inbox, BatchDelay: 20 * time.Millisecond, Service: svc})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(inbox, "drop.csv"), sampleCSV)

	select {
	case <-svc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch to start")
	}
	return w, svc, errCh
}

func TestWatcher_StopWaitsForBatch(t *testing.T) {
	w, svc, errCh := startBlockedWatcher(t, context.Background())

	w.Stop()
	select {
	case <-errCh:
		t.Fatal("Start() returned while a batch was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(svc.release)
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after the batch finished")
	}

	if results := readResults(t, filepath.Join(w.Outbox(), "drop.ids.json")); len(results) != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestWatcher_CancelDuringBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, _, errCh := startBlockedWatcher(t, ctx)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	for _, name := range []string{"drop.ids.json", "drop.error.json"} {
		if _, err := os.Stat(filepath.Join(w.Outbox(), name)); !os.IsNotExist(err) {
			t.Errorf("%s should not exist after an interrupted batch (stat error = %v)", name, err)
		}
	}
}

func TestIgnoreFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, IgnoreFileName), "drafts-*\n!drafts-final.csv\n")

	f, err := NewIgnoreFilter(root, "/identified")
	if err != nil {
		t.Fatalf("NewIgnoreFilter() error = %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"stones.csv", false},
		{".stones.csv", true},
		{"stones.csv~", true},
		{"upload.part", true},
		{"drafts-1.csv", true},
		{"drafts-final.csv", false},
		{"identified", true},
	}

	for _, tt := range tests {
		if got := f.ShouldIgnore(filepath.Join(root, tt.name)); got != tt.want {
			t.Errorf("ShouldIgnore(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
