package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug text", "debug", "text"},
		{"info json", "info", "json"},
		{"warn text", "warn", "text"},
		{"error json", "error", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.Logger == nil {
				t.Fatal("New() returned logger with nil slog.Logger")
			}
		})
	}
}

func TestLogger_WithRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.WithRecord("123456789").Info("identified")

	if !strings.Contains(buf.String(), `"internal_id":"123456789"`) {
		t.Errorf("output missing internal_id, got: %s", buf.String())
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.WithComponent("ledger").Info("ready")

	if !strings.Contains(buf.String(), "component=ledger") {
		t.Errorf("output missing component, got: %s", buf.String())
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.WithError(errors.New("boom")).Warn("failed")

	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("output missing error, got: %s", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info message should be filtered at warn level, got: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("warn message missing, got: %s", output)
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
	if Discard() == nil {
		t.Fatal("Discard() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // default
		{"", slog.LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_OutputFormat(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "info", "json")

		logger.Info("test message")

		output := buf.String()
		if !strings.Contains(output, `"msg":"test message"`) {
			t.Errorf("JSON output should contain msg field, got: %s", output)
		}
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, "info", "text")

		logger.Info("test message")

		output := buf.String()
		if !strings.Contains(output, "test message") {
			t.Errorf("Text output should contain message, got: %s", output)
		}
	})
}
