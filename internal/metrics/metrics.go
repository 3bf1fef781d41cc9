package metrics

import (
	"time"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// Metrics holds identifier issuance metrics.
type Metrics struct {
	IdentifyTotal   *Counter
	IdentifyErrors  *CounterVec
	Collisions      *Counter
	IdentifyLatency *Histogram
	BatchRecords    *Counter
	BatchDuration   *Gauge
	LastSuccess     *Gauge
	LedgerEntries   *Gauge
}

// New creates an empty metrics set.
func New() *Metrics {
	return &Metrics{
		IdentifyTotal: NewCounter(
			"stoneid_identify_total",
			"Total number of identifiers issued",
			nil,
		),
		IdentifyErrors: NewCounterVec(
			"stoneid_identify_errors_total",
			"Total number of failed identifications by error code",
			[]string{"code"},
		),
		Collisions: NewCounter(
			"stoneid_collisions_total",
			"Total number of identifier collisions reported by the ledger",
			nil,
		),
		IdentifyLatency: NewHistogram(
			"stoneid_identify_latency_ms",
			"Identification latency in milliseconds",
			nil,
		),
		BatchRecords: NewCounter(
			"stoneid_batch_records_total",
			"Total number of records submitted in batches",
			nil,
		),
		BatchDuration: NewGauge(
			"stoneid_batch_duration_ms",
			"Wall-clock duration of the last batch in milliseconds",
		),
		LastSuccess: NewGauge(
			"stoneid_last_success_timestamp_seconds",
			"Unix time of the last successful batch",
		),
		LedgerEntries: NewGauge(
			"stoneid_ledger_entries",
			"Number of identifiers in the ledger",
		),
	}
}

// RecordIdentify records the outcome of one identification.
func (m *Metrics) RecordIdentify(latency time.Duration, err error) {
	m.IdentifyLatency.Observe(float64(latency.Microseconds()) / 1000)

	if err == nil {
		m.IdentifyTotal.Inc()
		return
	}

	code := errors.CodeOf(err)
	if code == "" {
		code = errors.CodeInternal
	}
	m.IdentifyErrors.WithLabels(code).Inc()
	if code == errors.CodeCollision {
		m.Collisions.Inc()
	}
}

// RecordBatch records a finished batch run.
func (m *Metrics) RecordBatch(records int, duration time.Duration, err error) {
	m.BatchRecords.Add(int64(records))
	m.BatchDuration.Set(float64(duration.Microseconds()) / 1000)
	if err == nil {
		m.LastSuccess.Set(float64(time.Now().Unix()))
	}
}
