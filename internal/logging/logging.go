package logging

import (
    "encoding/json"
    "time"
)

type Logger interface {
    Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
    return nopLogger{}
}

// OrNop returns l, or a discarding Logger when l is nil.
func OrNop(l Logger) Logger {
    if l == nil {
        return nopLogger{}
    }
    return l
}

// Event writes one JSON line carrying the event name, a UTC timestamp and
// the given fields.
func Event(l Logger, event string, fields map[string]any) {
    payload := map[string]any{
        "event": event,
        "ts":    time.Now().UTC().Format(time.RFC3339Nano),
    }
    for k, v := range fields {
        payload[k] = v
    }
    data, err := json.Marshal(payload)
    if err != nil {
        l.Printf("log_marshal_error: %v", err)
        return
    }
    l.Printf("%s", data)
}
