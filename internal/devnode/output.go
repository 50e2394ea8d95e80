package devnode

import (
	"io"
	"sync"
)

// linePrefixWriter prefixes every line written to w. Incomplete lines are
// held back until they are terminated or the writer is closed.
type linePrefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	line   []byte
}

func newLinePrefixWriter(w io.Writer, prefix string) *linePrefixWriter {
	return &linePrefixWriter{w: w, prefix: prefix}
}

func (w *linePrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if len(w.line) == 0 {
			w.line = append(w.line, w.prefix...)
		}
		w.line = append(w.line, b)
		if b == '\n' {
			if err := w.flush(); err != nil {
				return len(p), err
			}
		}
	}
	return len(p), nil
}

func (w *linePrefixWriter) flush() error {
	_, err := w.w.Write(w.line)
	w.line = w.line[:0]
	return err
}

// Close writes out the last incomplete line.
func (w *linePrefixWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.line) == 0 {
		return nil
	}
	w.line = append(w.line, '\n')
	return w.flush()
}
