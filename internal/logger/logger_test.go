package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("info").Output(&buf)

	log.Info().Str("message_id", "m1").Msg("message sent")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %s", err, buf.String())
	}
	if entry["message"] != "message sent" {
		t.Errorf("expected message 'message sent', got %v", entry["message"])
	}
	if entry["message_id"] != "m1" {
		t.Errorf("expected message_id m1, got %v", entry["message_id"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON output")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logLevel  string
		shouldLog bool
	}{
		{"info logger logs info", "info", "info", true},
		{"info logger skips debug", "info", "debug", false},
		{"debug logger logs debug", "debug", "debug", true},
		{"warn logger skips info", "warn", "info", false},
		{"invalid level defaults to info", "loud", "info", true},
		{"invalid level skips debug", "loud", "debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.level).Output(&buf)

			switch tt.logLevel {
			case "debug":
				log.Debug().Msg("test")
			case "info":
				log.Info().Msg("test")
			}

			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got output %q", tt.shouldLog, buf.String())
			}
		})
	}
}

func TestNewFromConfig_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := NewFromConfig(Config{Level: "info", Output: "file", FilePath: path, MaxSizeMB: 1, MaxFiles: 1})

	log.Info().Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected log line in file, got %q", data)
	}
}

func TestFromContext_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New("info").Output(&buf))
	ctx = WithCorrelationID(ctx, "abc-123")

	if got := CorrelationIDFromContext(ctx); got != "abc-123" {
		t.Errorf("expected correlation id abc-123, got %q", got)
	}

	log := FromContext(ctx)
	log.Info().Msg("handled")

	if !strings.Contains(buf.String(), `"correlation_id":"abc-123"`) {
		t.Errorf("expected correlation_id field, got %s", buf.String())
	}
}

func TestCorrelationIDFromContext_Empty(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty correlation id, got %q", got)
	}
}

func TestNewCorrelationID_Unique(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}
