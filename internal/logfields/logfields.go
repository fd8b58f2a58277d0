package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyService    = "service"
	KeyStream     = "stream"
	KeyStreams    = "streams"
	KeyGroup      = "group"
	KeyConsumer   = "consumer"
	KeyMessageID  = "message_id"
	KeyEventType  = "event_type"
	KeyEventID    = "event_id"
	KeyState      = "state"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyBackend    = "backend"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Service(name string) slog.Attr    { return slog.String(KeyService, name) }
func Stream(name string) slog.Attr     { return slog.String(KeyStream, name) }
func Streams(names []string) slog.Attr { return slog.Any(KeyStreams, names) }
func Group(name string) slog.Attr      { return slog.String(KeyGroup, name) }
func Consumer(name string) slog.Attr   { return slog.String(KeyConsumer, name) }
func MessageID(id string) slog.Attr    { return slog.String(KeyMessageID, id) }
func EventType(t string) slog.Attr     { return slog.String(KeyEventType, t) }
func EventID(id string) slog.Attr      { return slog.String(KeyEventID, id) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func Backend(name string) slog.Attr    { return slog.String(KeyBackend, name) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
