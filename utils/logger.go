package utils

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// Fields are structured log attributes.
type Fields map[string]interface{}

// Logger writes one JSON object per line.
type Logger struct {
	out *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

// NewLoggerTo writes entries to w.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{out: log.New(w, "", 0)}
}

// DiscardLogger drops every entry.
func DiscardLogger() *Logger {
	return NewLoggerTo(io.Discard)
}

func (l *Logger) Info(msg string, fields Fields) {
	l.log("info", msg, fields)
}

func (l *Logger) Warn(msg string, fields Fields) {
	l.log("warn", msg, fields)
}

func (l *Logger) Error(msg string, fields Fields) {
	l.log("error", msg, fields)
}

func (l *Logger) log(level, msg string, fields Fields) {
	entry := map[string]interface{}{
		"level":     level,
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	b, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("level=%s msg=%s", level, msg)
		return
	}
	l.out.Println(string(b))
}
