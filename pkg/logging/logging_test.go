package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetup_JSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger, err := Setup(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("Balance mismatch", "user_id", "alice")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["service"] != Service || rec["msg"] != "Balance mismatch" || rec["user_id"] != "alice" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestSetup_Text(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	if _, err := Setup(&buf, "info", ""); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	slog.Info("Engine state restored")
	if out := buf.String(); !strings.Contains(out, "Engine state restored") || !strings.Contains(out, Service) {
		t.Errorf("unexpected output: %q", out)
	}

	if _, err := Setup(&buf, "info", "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
