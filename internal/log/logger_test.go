package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup("debug", "json", &buf)

	Get().Debug("hello", "k", "v")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v (%q)", err, buf.String())
	}
	if out["msg"] != "hello" || out["k"] != "v" {
		t.Errorf("unexpected record: %v", out)
	}
}

func TestSetupTextFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup("warn", "text", &buf)

	Get().Info("dropped")
	Get().Warn("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Errorf("info record should be filtered at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "msg=kept") {
		t.Errorf("expected text warn record, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "json", &buf)

	WithComponent("cleaner").Info("pass complete")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "cleaner" {
		t.Errorf("Expected component 'cleaner', got %v", out["component"])
	}
}
