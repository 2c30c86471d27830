package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []outEntry {
	t.Helper()
	var out []outEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e outEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestStdoutLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn, "test")
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too")

	got := decodeLines(t, &buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(got), buf.String())
	}
	if got[0].Level != "warn" || got[1].Level != "error" {
		t.Errorf("unexpected levels %q %q", got[0].Level, got[1].Level)
	}
}

func TestStdoutLogger_WithCarriesFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, LevelDebug, "root")
	base.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	child := base.With(Component("engine"), Field{Key: "job_id", Value: "j1"})
	child.Info("polled", Field{Key: "phase", Value: "analyzing"})
	base.Info("root entry")

	got := decodeLines(t, &buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Component != "engine" {
		t.Errorf("component = %q, want engine", got[0].Component)
	}
	if got[0].Fields["job_id"] != "j1" || got[0].Fields["phase"] != "analyzing" {
		t.Errorf("fields = %v", got[0].Fields)
	}
	if _, ok := got[0].Fields["component"]; ok {
		t.Errorf("component must not be duplicated into fields")
	}
	if got[1].Component != "root" || len(got[1].Fields) != 0 {
		t.Errorf("parent logger was mutated: %+v", got[1])
	}
	if got[0].Time != "2024-01-02T03:04:05Z" {
		t.Errorf("time = %q", got[0].Time)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "warning": LevelWarn,
		"Error": LevelError, "": LevelInfo, "verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
