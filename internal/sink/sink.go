// Package sink writes the line-oriented event stream consumed downstream:
// one self-contained JSON object per line. Stdout is the default target, the
// Splunk scripted-input contract; daemon mode can write to a size-rotated
// file instead.
package sink

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/asmfeed/asmfeed/internal/config"
)

// Writer is a line-oriented structured-record writer. Writes are serialized
// so interleaved collectors in daemon mode never split a line.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Writer for the configured sink: stdout when no path is set,
// otherwise a lumberjack-rotated file.
func New(cfg config.SinkConfig) *Writer {
	if cfg.Path == "" {
		return &Writer{w: os.Stdout}
	}
	return &Writer{w: &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}}
}

// NewWithWriter wraps an arbitrary writer; used by tests and for error
// events emitted before a sink is configured.
func NewWithWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRaw writes one pre-encoded JSON record as a single line.
// The record is compacted so embedded newlines in the source encoding can
// never break the one-object-per-line contract.
func (s *Writer) WriteRaw(record json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, record); err != nil {
		return err
	}
	buf.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(buf.Bytes())
	return err
}

// WriteEvent marshals v and writes it as a single line.
func (s *Writer) WriteEvent(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.WriteRaw(b)
}
