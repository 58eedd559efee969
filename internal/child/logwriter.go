package child

import (
	"bytes"
	"log/slog"
)

// lineWriter splits a child output stream into lines and forwards them to
// the manager's structured logger tagged by stream, so operators see
// interleaved but attributable logs.
type lineWriter struct {
	log    *slog.Logger
	stream string
	buf    bytes.Buffer
}

func newLineWriter(log *slog.Logger, stream string) *lineWriter {
	return &lineWriter{log: log, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it buffered for the next write.
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// flush emits any buffered partial line. Called once after the child exits;
// exec.Cmd.Wait only returns after both stream copies are done, so this
// never races a Write.
func (w *lineWriter) flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	if line == "" {
		return
	}
	w.log.Info(line, "stream", w.stream)
}
