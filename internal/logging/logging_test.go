package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
	}{
		{"debug", true},
		{"info", false},
		{"warn", false},
		{"error", false},
		{"bogus", false}, // defaults to info
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(tt.level, "text", &buf)

		logger.Debug("debug message")
		if got := buf.Len() > 0; got != tt.debugOn {
			t.Errorf("level %q: debug emitted = %v, want %v", tt.level, got, tt.debugOn)
		}
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "json", &buf)

	logger.Info("frame decoded", KeyChannelID, 3, KeyTimestamp, 150)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "frame decoded" {
		t.Fatalf("msg %v", record["msg"])
	}
	if record[KeyChannelID] != float64(3) {
		t.Fatalf("%s = %v", KeyChannelID, record[KeyChannelID])
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("subscription installed", KeyChannelID, 7)

	out := buf.String()
	if !strings.Contains(out, "subscription installed") || !strings.Contains(out, KeyChannelID+"=7") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger == nil {
		t.Fatal("NopLogger returned nil")
	}
	// Must not panic; output goes nowhere.
	logger.Error("discarded", KeyError, "nothing")
}
