package log

import (
	"io"
	"log/slog"
)

// NewLogger returns a logger writing JSON records at the given level. Values carried by the
// context are added to every record.
func NewLogger(w io.Writer, level slog.Level, pretty bool) *slog.Logger {
	handler := NewPrettyJSONHandler(w, &PrettyJSONHandlerOptions{
		HandlerOptions: slog.HandlerOptions{Level: level},
		PrettyPrint:    pretty,
	})
	return slog.New(New(handler))
}
