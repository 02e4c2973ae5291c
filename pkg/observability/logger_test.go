package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/meridianhq/meridian/pkg/contextkeys"
)

type logEntry struct {
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Error     string `json:"error"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) logEntry {
	t.Helper()

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		entry := decodeEntry(t, &buf)
		if entry.Level != "INFO" {
			t.Errorf("Expected level INFO, got %s", entry.Level)
		}
		if entry.Message != "info message" {
			t.Errorf("Expected message 'info message', got %s", entry.Message)
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")

		entry := decodeEntry(t, &buf)
		if entry.Level != "ERROR" {
			t.Errorf("Expected level ERROR, got %s", entry.Level)
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	t.Run("with field", func(t *testing.T) {
		buf.Reset()
		logger.WithField("user_id", "u1").Info("resolved")

		entry := decodeEntry(t, &buf)
		if entry.UserID != "u1" {
			t.Errorf("Expected user_id u1, got %s", entry.UserID)
		}
	})

	t.Run("with error", func(t *testing.T) {
		buf.Reset()
		logger.WithError(errors.New("boom")).Warn("cache unavailable")

		entry := decodeEntry(t, &buf)
		if entry.Error != "boom" {
			t.Errorf("Expected error 'boom', got %s", entry.Error)
		}
	})

	t.Run("with nil error is a no-op", func(t *testing.T) {
		buf.Reset()
		logger.WithError(nil).Info("fine")

		entry := decodeEntry(t, &buf)
		if entry.Error != "" {
			t.Errorf("Expected no error field, got %s", entry.Error)
		}
	})

	t.Run("derived loggers do not share fields", func(t *testing.T) {
		buf.Reset()
		logger.WithField("user_id", "u1").Info("first")
		buf.Reset()
		logger.Info("second")

		entry := decodeEntry(t, &buf)
		if entry.UserID != "" {
			t.Error("Base logger should not carry derived fields")
		}
	})
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("copies request id from context", func(t *testing.T) {
		buf.Reset()
		ctx := contextkeys.WithRequestID(context.Background(), "req-1")
		logger.WithContext(ctx).Info("handled")

		entry := decodeEntry(t, &buf)
		if entry.RequestID != "req-1" {
			t.Errorf("Expected request_id req-1, got %s", entry.RequestID)
		}
	})

	t.Run("no-op without request id", func(t *testing.T) {
		buf.Reset()
		logger.WithContext(context.Background()).Info("handled")

		entry := decodeEntry(t, &buf)
		if entry.RequestID != "" {
			t.Errorf("Expected no request_id field, got %s", entry.RequestID)
		}
	})
}

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Infof("resolved %d permissions for %s", 3, "u1")

	entry := decodeEntry(t, &buf)
	if entry.Message != "resolved 3 permissions for u1" {
		t.Errorf("Unexpected message: %s", entry.Message)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogLevelString(t *testing.T) {
	levels := map[LogLevel]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
	}
	for level, want := range levels {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %s, want %s", level, got, want)
		}
	}
}
