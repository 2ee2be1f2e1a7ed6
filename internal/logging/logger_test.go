package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWriterLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "order_id", 7)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one json line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" || line["order_id"] != float64(7) {
		t.Fatalf("unexpected record %v", line)
	}
}

func TestNewWriterUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "loud").Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info fallback to drop debug, got %q", buf.String())
	}
}
