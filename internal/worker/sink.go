package worker

import (
	"bytes"
	"log/slog"

	"github.com/seantiz/browserd/internal/wire"
)

// newSink returns a slog handler that renders each record as one text line
// and sends it to the host as a log frame. Timestamps are dropped; the host
// stamps lines when it stores them.
func newSink(fw *frameWriter, level slog.Level) slog.Handler {
	return slog.NewTextHandler(lineWriter{fw: fw}, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
}

// lineWriter turns each Write from the text handler (one record, newline
// terminated) into a log frame.
type lineWriter struct {
	fw *frameWriter
}

func (w lineWriter) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))
	if err := w.fw.write(wire.LogMessage(line)); err != nil {
		return 0, err
	}
	return len(p), nil
}
