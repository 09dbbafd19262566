package observability

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type boolField struct {
	key string
	val bool
}

func (f boolField) Key() string        { return f.key }
func (f boolField) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field      { return stringField{key, value} }
func Int(key string, value int) Field     { return intField{key, value} }
func Int64(key string, value int64) Field { return int64Field{key, value} }
func Bool(key string, value bool) Field   { return boolField{key, value} }
func Error(key string, err error) Field   { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// writerLogger renders one line per entry: LEVEL msg key=value ...
type writerLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	min    Level
	fields []Field
}

// NewWriterLogger returns a Logger that writes entries at or above min to w.
func NewWriterLogger(w io.Writer, min Level) Logger {
	return &writerLogger{mu: &sync.Mutex{}, w: w, min: min}
}

func (l *writerLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *writerLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *writerLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *writerLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *writerLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &writerLogger{mu: l.mu, w: l.w, min: l.min, fields: merged}
}

func (l *writerLogger) log(level Level, msg string, fields []Field) {
	if level < l.min {
		return
	}
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range l.fields {
		writeField(&b, f)
	}
	for _, f := range fields {
		writeField(&b, f)
	}
	b.WriteByte('\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.w, b.String())
}

func writeField(b *strings.Builder, f Field) {
	b.WriteByte(' ')
	b.WriteString(f.Key())
	b.WriteByte('=')
	switch v := f.Value().(type) {
	case string:
		if strings.ContainsAny(v, " \t\"=") || v == "" {
			fmt.Fprintf(b, "%q", v)
			return
		}
		b.WriteString(v)
	case error:
		if v == nil {
			b.WriteString("<nil>")
			return
		}
		fmt.Fprintf(b, "%q", v.Error())
	default:
		fmt.Fprint(b, v)
	}
}

// Tracer provides tracing hooks around parse and write sessions.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

// OrNopTracer returns t, or a no-op tracer when t is nil.
func OrNopTracer(t Tracer) Tracer {
	if t == nil {
		return nopTracer{}
	}
	return t
}

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Span names used by the library.
const (
	SpanParse        = "pdf.parse"
	SpanXRef         = "pdf.xref"
	SpanFinalize     = "pdf.write.finalize"
	SpanIncremental  = "pdf.write.incremental"
	SpanStreamDecode = "pdf.stream.decode"
)
