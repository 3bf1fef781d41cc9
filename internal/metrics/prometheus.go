package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gradia/stoneid/internal/pkg/errors"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	writeCounter(&sb, m.IdentifyTotal)
	writeCounterVec(&sb, m.IdentifyErrors)
	writeCounter(&sb, m.Collisions)
	writeHistogram(&sb, m.IdentifyLatency)

	writeCounter(&sb, m.BatchRecords)
	writeGauge(&sb, m.BatchDuration)
	if m.LastSuccess.Value() > 0 {
		writeGauge(&sb, m.LastSuccess)
	}
	writeGauge(&sb, m.LedgerEntries)

	return sb.String()
}

// WriteTextfile writes the metrics to path atomically, as the textfile
// collector must never observe a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "creating metrics file", err).WithDetail("path", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(m.PrometheusFormat()); err != nil {
		tmp.Close()
		return errors.Wrap(errors.CodeInternal, "writing metrics file", err).WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.CodeInternal, "writing metrics file", err).WithDetail("path", path)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrap(errors.CodeInternal, "writing metrics file", err).WithDetail("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(errors.CodeInternal, "renaming metrics file", err).WithDetail("path", path)
	}
	return nil
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

// writeCounter writes a counter in Prometheus format.
func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.Name(), c.Help(), "counter")
	sb.WriteString(c.Name())
	writeLabels(sb, c.Labels())
	fmt.Fprintf(sb, " %d\n", c.Value())
}

// writeGauge writes a gauge in Prometheus format.
func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.Name(), g.Help(), "gauge")
	fmt.Fprintf(sb, "%s %s\n", g.Name(), formatFloat(g.Value()))
}

// writeHistogram writes a histogram in Prometheus format.
func writeHistogram(sb *strings.Builder, h *Histogram) {
	writeHeader(sb, h.Name(), h.Help(), "histogram")

	buckets := h.Buckets()
	counts := h.BucketCounts()

	for i, bucket := range buckets {
		fmt.Fprintf(sb, "%s_bucket{le=\"%s\"} %d\n", h.Name(), formatFloat(bucket), counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", h.Name(), counts[len(counts)-1])
	fmt.Fprintf(sb, "%s_sum %s\n", h.Name(), formatFloat(h.Sum()))
	fmt.Fprintf(sb, "%s_count %d\n", h.Name(), h.Count())
}

// writeCounterVec writes a counter vector in Prometheus format.
func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.GetAll()
	if len(counters) == 0 {
		return
	}

	writeHeader(sb, cv.Name(), cv.Help(), "counter")
	for _, c := range counters {
		sb.WriteString(c.Name())
		writeLabels(sb, c.Labels())
		fmt.Fprintf(sb, " %d\n", c.Value())
	}
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	// Sort keys for stable output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeString(labels[k]))
		sb.WriteString("\"")
	}
	sb.WriteString("}")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
