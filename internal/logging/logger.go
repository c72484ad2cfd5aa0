// Package logging provides structured, leveled logging for the pair tracker services.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return fmt.Sprintf("level(%d)", l)
	}
	return levelNames[l]
}

// Format selects the line encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Fields are key/value pairs attached to every line of a Logger
type Fields map[string]any

// Logger writes leveled lines with attached fields. Loggers are immutable;
// the With* methods return a derived copy sharing the same output.
type Logger struct {
	min    Level
	format Format
	out    *lockedWriter
	fields Fields
	now    func() time.Time
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(b []byte) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, _ = lw.w.Write(b)
}

type jsonLine struct {
	Time    string `json:"timestamp"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Fields  Fields `json:"fields,omitempty"`
	Caller  string `json:"caller,omitempty"`
}

// NewLogger creates a logger writing to stdout
func NewLogger(level Level, format Format) *Logger {
	return NewLoggerWithOutput(level, format, os.Stdout)
}

// NewLoggerWithOutput creates a logger writing to w
func NewLoggerWithOutput(level Level, format Format, w io.Writer) *Logger {
	return &Logger{
		min:    level,
		format: format,
		out:    &lockedWriter{w: w},
		now:    time.Now,
	}
}

// WithField returns a logger that adds key to every line
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a logger that adds all of fields to every line
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	derived := *l
	derived.fields = merged
	return &derived
}

// WithError attaches err as the "error" field; a nil error is ignored
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Enabled reports whether lines at level would be written
func (l *Logger) Enabled(level Level) bool {
	return level >= l.min
}

func (l *Logger) Debug(msg string) { l.emit(LevelDebug, msg) }
func (l *Logger) Info(msg string)  { l.emit(LevelInfo, msg) }
func (l *Logger) Warn(msg string)  { l.emit(LevelWarn, msg) }
func (l *Logger) Error(msg string) { l.emit(LevelError, msg) }

// Fatal logs msg and exits the process
func (l *Logger) Fatal(msg string) {
	l.emit(LevelFatal, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message and exits the process
func (l *Logger) Fatalf(format string, args ...any) {
	l.emit(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (l *Logger) emit(level Level, msg string) {
	if !l.Enabled(level) {
		return
	}

	var caller string
	if level >= LevelError {
		// skip emit and the exported level method
		if _, file, line, ok := runtime.Caller(2); ok {
			caller = fmt.Sprintf("%s:%d", file, line)
		}
	}
	ts := l.now().UTC().Format(time.RFC3339)

	if l.format == FormatText {
		l.out.write(l.textLine(ts, level, msg, caller))
		return
	}

	b, err := json.Marshal(jsonLine{Time: ts, Level: level.String(), Message: msg, Fields: l.fields, Caller: caller})
	if err != nil {
		// unencodable field value; keep the message
		b, _ = json.Marshal(jsonLine{Time: ts, Level: level.String(), Message: msg, Caller: caller,
			Fields: Fields{"log_error": err.Error()}})
	}
	l.out.write(append(b, '\n'))
}

// textLine renders "ts LEVEL msg k=v ..." with keys sorted for stable output
func (l *Logger) textLine(ts string, level Level, msg, caller string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %-5s %s", ts, strings.ToUpper(level.String()), msg)

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, l.fields[k])
	}
	if caller != "" {
		sb.WriteString(" caller=" + caller)
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

var (
	globalMu sync.RWMutex
	global   = NewLogger(LevelInfo, FormatJSON)
)

// InitGlobalLogger replaces the process logger with one at level and format
func InitGlobalLogger(level Level, format Format) {
	SetGlobalLogger(NewLogger(level, format))
}

// SetGlobalLogger replaces the process logger
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// GetGlobalLogger returns the process logger
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// WithField derives from the process logger
func WithField(key string, value any) *Logger {
	return GetGlobalLogger().WithField(key, value)
}

// WithFields derives from the process logger
func WithFields(fields map[string]any) *Logger {
	return GetGlobalLogger().WithFields(fields)
}

// WithError derives from the process logger
func WithError(err error) *Logger {
	return GetGlobalLogger().WithError(err)
}

type ctxKey struct{}

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or the process logger when ctx has none
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return GetGlobalLogger()
}

// ParseLogLevel maps LOG_LEVEL values; unknown values fall back to info
func ParseLogLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	log.Printf("Unknown log level %q, defaulting to info", s)
	return LevelInfo
}

// ParseLogFormat maps LOG_FORMAT values; unknown values fall back to json
func ParseLogFormat(s string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatText:
		return f
	}
	log.Printf("Unknown log format %q, defaulting to json", s)
	return FormatJSON
}
