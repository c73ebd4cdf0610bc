package log

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// NewNopLogger returns a logger that discards all log output.
func NewNopLogger() Logger {
	return defaultLogger{
		Logger: zerolog.Nop(),
	}
}

type syncWriter struct {
	sync.Mutex
	io.Writer
}

func newSyncWriter(w io.Writer) io.Writer {
	return &syncWriter{Writer: w}
}

// Write writes p to the underlying writer. Only one goroutine writes at a
// time.
func (w *syncWriter) Write(p []byte) (int, error) {
	w.Lock()
	defer w.Unlock()
	return w.Writer.Write(p)
}
