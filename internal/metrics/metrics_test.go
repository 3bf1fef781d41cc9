package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter", "A test counter", nil)

	if c.Value() != 0 {
		t.Errorf("expected initial value 0, got %d", c.Value())
	}

	c.Inc()
	if c.Value() != 1 {
		t.Errorf("expected value 1 after Inc(), got %d", c.Value())
	}

	c.Add(5)
	if c.Value() != 6 {
		t.Errorf("expected value 6 after Add(5), got %d", c.Value())
	}

	// Counters can't decrease
	c.Add(-10)
	if c.Value() != 6 {
		t.Errorf("expected value 6 after Add(-10), got %d", c.Value())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A test gauge")

	if g.Value() != 0 {
		t.Errorf("expected initial value 0, got %f", g.Value())
	}

	g.Set(42.5)
	if g.Value() != 42.5 {
		t.Errorf("expected value 42.5, got %f", g.Value())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_histogram", "A test histogram", []float64{50, 1, 10, 5, 100})

	h.Observe(2.5)
	h.Observe(7.0)
	h.Observe(10)
	h.Observe(150.0)

	if h.Count() != 4 {
		t.Errorf("expected count 4, got %d", h.Count())
	}
	if h.Sum() != 169.5 {
		t.Errorf("expected sum 169.5, got %f", h.Sum())
	}

	wantBuckets := []float64{1, 5, 10, 50, 100}
	for i, b := range h.Buckets() {
		if b != wantBuckets[i] {
			t.Errorf("bucket[%d] = %f, want %f", i, b, wantBuckets[i])
		}
	}

	// Cumulative: <=1, <=5, <=10, <=50, <=100, +Inf
	want := []int64{0, 1, 3, 3, 3, 4}
	got := h.BucketCounts()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BucketCounts()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCounterVec(t *testing.T) {
	cv := NewCounterVec("test_counter_vec", "A test counter vector", []string{"code"})

	cv.WithLabels("INVALID_INPUT").Inc()
	cv.WithLabels("INVALID_INPUT").Inc()
	cv.WithLabels("COLLISION").Inc()

	all := cv.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(all))
	}
	// Sorted by label values
	if all[0].Labels()["code"] != "COLLISION" || all[1].Value() != 2 {
		t.Errorf("unexpected counters: %v=%d, %v=%d", all[0].Labels(), all[0].Value(), all[1].Labels(), all[1].Value())
	}
}

func TestCounterVec_WrongLabelCount(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for wrong label count")
		}
	}()
	NewCounterVec("x", "x", []string{"code"}).WithLabels("a", "b")
}

func TestMetricsRecording(t *testing.T) {
	m := New()

	m.RecordIdentify(2*time.Millisecond, nil)
	m.RecordIdentify(time.Millisecond, nil)
	m.RecordIdentify(time.Millisecond, errors.MissingFieldError("color"))
	m.RecordIdentify(time.Millisecond, errors.CollisionError("d9d89e85"))
	m.RecordIdentify(time.Millisecond, os.ErrClosed)

	if m.IdentifyTotal.Value() != 2 {
		t.Errorf("IdentifyTotal = %d, want 2", m.IdentifyTotal.Value())
	}
	if m.Collisions.Value() != 1 {
		t.Errorf("Collisions = %d, want 1", m.Collisions.Value())
	}
	if m.IdentifyLatency.Count() != 5 {
		t.Errorf("IdentifyLatency count = %d, want 5", m.IdentifyLatency.Count())
	}
	for _, code := range []string{errors.CodeInvalidInput, errors.CodeCollision, errors.CodeInternal} {
		if got := m.IdentifyErrors.WithLabels(code).Value(); got != 1 {
			t.Errorf("IdentifyErrors{code=%s} = %d, want 1", code, got)
		}
	}

	m.RecordBatch(10, 1500*time.Millisecond, nil)
	m.RecordBatch(5, 250*time.Millisecond, nil)
	if m.BatchRecords.Value() != 15 {
		t.Errorf("BatchRecords = %d, want 15", m.BatchRecords.Value())
	}
	if m.BatchDuration.Value() != 250 {
		t.Errorf("BatchDuration = %f, want 250", m.BatchDuration.Value())
	}
	if m.LastSuccess.Value() == 0 {
		t.Error("LastSuccess not set after successful batch")
	}
}

func TestPrometheusFormat(t *testing.T) {
	m := New()
	m.RecordIdentify(time.Millisecond, nil)
	m.RecordIdentify(time.Millisecond, errors.CollisionError("d9d89e85"))
	m.LedgerEntries.Set(1)

	output := m.PrometheusFormat()

	for _, want := range []string{
		"# HELP stoneid_identify_total Total number of identifiers issued\n",
		"# TYPE stoneid_identify_total counter\n",
		"stoneid_identify_total 1\n",
		"stoneid_identify_errors_total{code=\"COLLISION\"} 1\n",
		"stoneid_collisions_total 1\n",
		"# TYPE stoneid_identify_latency_ms histogram\n",
		"stoneid_identify_latency_ms_bucket{le=\"0.05\"} 0\n",
		"stoneid_identify_latency_ms_bucket{le=\"1\"} 2\n",
		"stoneid_identify_latency_ms_bucket{le=\"+Inf\"} 2\n",
		"stoneid_identify_latency_ms_sum 2\n",
		"stoneid_identify_latency_ms_count 2\n",
		"stoneid_ledger_entries 1\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// Unset until a batch succeeds
	if strings.Contains(output, "stoneid_last_success_timestamp_seconds") {
		t.Error("last success gauge should be omitted before any batch")
	}
}

func TestPrometheusFormat_MetricNames(t *testing.T) {
	m := New()
	m.RecordIdentify(time.Millisecond, nil)
	m.RecordIdentify(time.Millisecond, errors.CollisionError("d9d89e85"))
	m.RecordBatch(2, 1500*time.Millisecond, nil)

	output := m.PrometheusFormat()

	for _, want := range []string{
		"# TYPE stoneid_identify_total counter\n",
		"# TYPE stoneid_identify_errors_total counter\n",
		"# TYPE stoneid_collisions_total counter\n",
		"# TYPE stoneid_identify_latency_ms histogram\n",
		"# TYPE stoneid_batch_records_total counter\n",
		"stoneid_batch_records_total 2\n",
		"# TYPE stoneid_batch_duration_ms gauge\n",
		"stoneid_batch_duration_ms 1500\n",
		"# TYPE stoneid_last_success_timestamp_seconds gauge\n",
		"# TYPE stoneid_ledger_entries gauge\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordIdentify(time.Millisecond, nil)

	path := filepath.Join(t.TempDir(), "stoneid.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != m.PrometheusFormat() {
		t.Error("textfile content differs from PrometheusFormat()")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the metrics file, found %d entries", len(entries))
	}
}

func TestWriteTextfile_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "stoneid.prom")
	if err := New().WriteTextfile(path); errors.CodeOf(err) != errors.CodeInternal {
		t.Errorf("WriteTextfile() error = %v, want INTERNAL_ERROR", err)
	}
}

func TestEscapeString(t *testing.T) {
	if got := escapeString("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Errorf("escapeString() = %s", got)
	}
}
