package sink

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asmfeed/asmfeed/internal/config"
)

func TestWriteRaw_OneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWithWriter(&buf)

	if err := w.WriteRaw([]byte(`{"id": 1}`)); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if err := w.WriteRaw([]byte("{\n  \"id\": 2\n}")); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2: %q", len(lines), buf.String())
	}
	for i, line := range lines {
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Errorf("line %d is not valid JSON: %q", i, line)
		}
	}
	// Pretty-printed input was compacted onto one line.
	if lines[1] != `{"id":2}` {
		t.Errorf("line 2: got %q", lines[1])
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWithWriter(&buf)

	if err := w.WriteEvent(map[string]any{"event_type": "run_start"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if got := buf.String(); got != `{"event_type":"run_start"}`+"\n" {
		t.Errorf("got %q", got)
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	w := New(config.SinkConfig{Path: path, MaxSizeMB: 1})

	if err := w.WriteRaw([]byte(`{"id": 1}`)); err != nil {
		t.Fatalf("WriteRaw to file sink: %v", err)
	}
}
