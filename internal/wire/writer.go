package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer emits one JSON value per line and flushes after each, so the
// parent sees every response as soon as it is produced.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter wraps w (normally os.Stdout).
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{buf: buf, enc: enc}
}

// Write encodes v as a single line and flushes it.
//
// Nothing is written when v cannot be encoded.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encoding line: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing line: %w", err)
	}
	return nil
}
