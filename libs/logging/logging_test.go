package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewTagsServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "portal", "test")
	logger.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if record["service"] != "portal" || record["env"] != "test" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "portal", "test")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARNING") != slog.LevelWarn {
		t.Fatalf("expected warn")
	}
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}

func TestMaskEmail(t *testing.T) {
	if got := MaskEmail("alice@example.com"); got != "a***@example.com" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskEmail("broken"); got != "***" {
		t.Fatalf("unexpected mask %q", got)
	}
}
