// Package watch identifies record files dropped into an inbox directory.
//
// Every supported record file (.yaml, .yml, .json, .csv) in the inbox is
// identified as a batch. Results are written to the outbox as
// <name>.ids.json; failures as <name>.error.json. A file is processed again
// only when it is newer than its result.
package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gradia/stoneid/internal/identify"
	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/logger"
	"github.com/gradia/stoneid/internal/records"
	"github.com/gradia/stoneid/internal/stone"
)

const (
	resultSuffix = ".ids.json"
	errorSuffix  = ".error.json"

	// DefaultOutbox is created inside the inbox when no outbox is given.
	DefaultOutbox = "identified"
)

// Identifier identifies a batch of records.
type Identifier interface {
	IdentifyBatch(ctx context.Context, recs []stone.Record) ([]identify.Result, error)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Inbox      string
	Outbox     string        // Default: <Inbox>/identified
	BatchDelay time.Duration // Default: 500ms
	Service    Identifier
	Log        *logger.Logger
}

// Watcher processes record files as they appear in the inbox.
type Watcher struct {
	inbox   string
	outbox  string
	service Identifier
	ignore  *IgnoreFilter

	// Batch processing
	pendingMu    sync.Mutex
	pendingFiles map[string]struct{}
	batchTimer   *time.Timer
	batchDelay   time.Duration
	processMu    sync.Mutex // serializes batches
	inflight     sync.WaitGroup
	stopped      bool // guarded by pendingMu; no batch starts once set

	// Stats
	statsMu   sync.Mutex
	fileCount int
	lastSync  time.Time

	// Lifecycle
	ctx      context.Context // guarded by pendingMu
	done     chan struct{}
	stopOnce sync.Once
	log      *logger.Logger
}

// ErrorReport is the content of a <name>.error.json file.
type ErrorReport struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewWatcher creates a Watcher. The outbox is created if missing.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Service == nil {
		return nil, errors.ConfigError("watcher requires an identify service", nil)
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 500 * time.Millisecond
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}

	inbox, err := filepath.Abs(cfg.Inbox)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "resolving inbox", err).WithDetail("path", cfg.Inbox)
	}
	info, err := os.Stat(inbox)
	if err != nil || !info.IsDir() {
		return nil, errors.InvalidInputError("inbox is not a directory").WithDetail("path", inbox)
	}

	outbox := cfg.Outbox
	if outbox == "" {
		outbox = filepath.Join(inbox, DefaultOutbox)
	}
	outbox, err = filepath.Abs(outbox)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "resolving outbox", err).WithDetail("path", cfg.Outbox)
	}
	if err := os.MkdirAll(outbox, 0755); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "creating outbox", err).WithDetail("path", outbox)
	}

	var extra []string
	if rel, err := filepath.Rel(inbox, outbox); err == nil && !strings.HasPrefix(rel, "..") {
		extra = append(extra, "/"+filepath.ToSlash(rel))
	}
	ignore, err := NewIgnoreFilter(inbox, extra...)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidInput, "reading "+IgnoreFileName, err)
	}

	return &Watcher{
		inbox:        inbox,
		outbox:       outbox,
		service:      cfg.Service,
		ignore:       ignore,
		pendingFiles: make(map[string]struct{}),
		batchDelay:   cfg.BatchDelay,
		ctx:          context.Background(),
		done:         make(chan struct{}),
		log:          cfg.Log.WithComponent("watcher"),
	}, nil
}

// Outbox returns the result directory.
func (w *Watcher) Outbox() string {
	return w.outbox
}

// Start processes existing files and then watches the inbox until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.pendingMu.Lock()
	w.ctx = ctx
	w.pendingMu.Unlock()
	defer w.shutdown()

	w.log.Info("Starting watcher", "inbox", w.inbox, "outbox", w.outbox)

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "creating file watcher", err)
	}
	defer fsWatcher.Close()

	// Watch before the initial sync so files dropped meanwhile are seen.
	if err := fsWatcher.Add(w.inbox); err != nil {
		return errors.Wrap(errors.CodeInternal, "watching inbox", err).WithDetail("path", w.inbox)
	}

	if err := w.Sync(ctx); err != nil {
		return err
	}

	w.log.Info("Watching for record files", "inbox", w.inbox)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("Watcher error", "error", err.Error())
		}
	}
}

// Stop ends Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// shutdown cancels the pending batch and waits for a running one, so the
// service is idle when Start returns.
func (w *Watcher) shutdown() {
	w.pendingMu.Lock()
	w.stopped = true
	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
	w.pendingMu.Unlock()

	w.inflight.Wait()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.accepts(event.Name) {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.stopped {
		return
	}

	w.pendingFiles[event.Name] = struct{}{}

	// Reset batch timer
	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
	w.batchTimer = time.AfterFunc(w.batchDelay, w.processBatch)
}

// accepts reports whether path is a record file the watcher handles.
func (w *Watcher) accepts(path string) bool {
	if filepath.Dir(path) != w.inbox || w.ignore.ShouldIgnore(path) {
		return false
	}
	_, err := records.FormatFromPath(path)
	return err == nil
}

func (w *Watcher) processBatch() {
	select {
	case <-w.done:
		return
	default:
	}

	w.pendingMu.Lock()
	if w.stopped {
		w.pendingMu.Unlock()
		return
	}
	w.inflight.Add(1)
	defer w.inflight.Done()

	files := make([]string, 0, len(w.pendingFiles))
	for path := range w.pendingFiles {
		files = append(files, path)
	}
	w.pendingFiles = make(map[string]struct{})
	ctx := w.ctx
	w.pendingMu.Unlock()

	w.processMu.Lock()
	defer w.processMu.Unlock()

	sort.Strings(files)
	for _, path := range files {
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(path); err != nil {
			continue // removed before the batch fired
		}
		w.processLogged(ctx, path)
	}
}

// Sync processes every record file in the inbox that is newer than its
// result.
func (w *Watcher) Sync(ctx context.Context) error {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "reading inbox", err).WithDetail("path", w.inbox)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := filepath.Join(w.inbox, e.Name())
		if e.IsDir() || !w.accepts(path) || w.upToDate(path) {
			continue
		}
		w.processLogged(ctx, path)
	}
	return nil
}

func (w *Watcher) processLogged(ctx context.Context, path string) {
	if err := w.ProcessFile(ctx, path); err != nil {
		w.log.WithError(err).Warn("record file failed", "path", path)
	}
}

// upToDate reports whether path already has a result or error at least as
// new as itself.
func (w *Watcher) upToDate(path string) bool {
	src, err := os.Stat(path)
	if err != nil {
		return false
	}
	for _, out := range []string{w.resultPath(path), w.errorPath(path)} {
		if info, err := os.Stat(out); err == nil && !info.ModTime().Before(src.ModTime()) {
			return true
		}
	}
	return false
}

func (w *Watcher) outputBase(path string) string {
	base := filepath.Base(path)
	return filepath.Join(w.outbox, strings.TrimSuffix(base, filepath.Ext(base)))
}

func (w *Watcher) resultPath(path string) string { return w.outputBase(path) + resultSuffix }
func (w *Watcher) errorPath(path string) string  { return w.outputBase(path) + errorSuffix }

// ProcessFile identifies the records in path and writes the result file.
// On failure an error file is written instead and the error returned.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	recs, err := records.Load(path)
	var results []identify.Result
	if err == nil {
		results, err = w.service.IdentifyBatch(ctx, recs)
	}

	if err != nil && ctx.Err() != nil {
		// Interrupted; leave the file for the next sync.
		return err
	}
	if err != nil {
		os.Remove(w.resultPath(path))
		report := ErrorReport{Code: errors.CodeOf(err), Error: err.Error()}
		if writeErr := writeJSONFile(w.errorPath(path), report); writeErr != nil {
			w.log.WithError(writeErr).Error("failed to write error file", "path", w.errorPath(path))
		}
		return err
	}

	if results == nil {
		results = []identify.Result{}
	}
	if err := writeJSONFile(w.resultPath(path), results); err != nil {
		return err
	}
	os.Remove(w.errorPath(path))

	w.statsMu.Lock()
	w.fileCount++
	w.lastSync = time.Now()
	w.statsMu.Unlock()

	w.log.Info("record file identified", "path", path, "records", len(results))
	return nil
}

// Stats returns the number of files processed and the time of the last one.
func (w *Watcher) Stats() (int, time.Time) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.fileCount, w.lastSync
}

// writeJSONFile writes v to path through a temporary file so readers never
// see partial output.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.InternalError("encoding result", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return errors.Wrap(errors.CodeInternal, "writing result", err).WithDetail("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.CodeInternal, "writing result", err).WithDetail("path", path)
	}
	return nil
}
