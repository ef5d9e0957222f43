package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleRendersLevelMessageAndFields(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.UseColor = false
	h := New(&buf, opts)

	logger := slog.New(h)
	logger.Info("starting download", "pieces", 42)

	out := buf.String()
	if !strings.Contains(out, "INFO") {
		t.Errorf("expected level in output, got %q", out)
	}
	if !strings.Contains(out, "starting download") {
		t.Errorf("expected message in output, got %q", out)
	}

	jsonStart := strings.LastIndex(out, "{")
	if jsonStart == -1 {
		t.Fatalf("expected a json fields blob in output, got %q", out)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out[jsonStart:])), &fields); err != nil {
		t.Fatalf("unmarshal fields: %v", err)
	}
	if fields["pieces"].(float64) != 42 {
		t.Errorf("expected pieces=42, got %v", fields["pieces"])
	}
}

func TestHandleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.UseColor = false
	opts.Level = slog.LevelWarn
	h := New(&buf, opts)

	logger := slog.New(h)
	logger.Debug("should not appear")
	logger.Info("also should not appear")

	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}
}

func TestWithAttrsCarriesForward(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.UseColor = false
	h := New(&buf, opts)

	logger := slog.New(h).With("peer", "1.2.3.4:6881")
	logger.Info("handshake complete")

	if !strings.Contains(buf.String(), "1.2.3.4:6881") {
		t.Errorf("expected carried attribute in output, got %q", buf.String())
	}
}
