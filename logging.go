package svopg

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// DefaultLogger writes info and debug lines to one sink and warnings and errors to another. Named
// children share both sinks and the debug switch of their parent.
type DefaultLogger struct {
	debug  *atomic.Bool
	prefix string
	out    *log.Logger
	err    *log.Logger
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return NewWriterLogger(prefix, debug, os.Stdout, os.Stderr)
}

// NewWriterLogger is NewDefaultLogger over arbitrary sinks.
func NewWriterLogger(prefix string, debug bool, out, errOut io.Writer) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	l := &DefaultLogger{
		debug:  new(atomic.Bool),
		prefix: prefix,
		out:    log.New(out, "", flags),
		err:    log.New(errOut, "", flags),
	}
	l.debug.Store(debug)
	return l
}

func (l *DefaultLogger) DebugEnabled() bool { return l.debug.Load() }

func (l *DefaultLogger) SetDebug(enabled bool) { l.debug.Store(enabled) }

// Named returns a child logger under a sub-prefix, e.g. "voxelgi/octree".
func (l *DefaultLogger) Named(name string) *DefaultLogger {
	child := *l
	if l.prefix != "" {
		child.prefix = l.prefix + "/" + name
	} else {
		child.prefix = name
	}
	return &child
}

func (l *DefaultLogger) emit(sink *log.Logger, level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix == "" {
		sink.Printf("%s: %s", level, msg)
		return
	}
	sink.Printf("[%s] %s: %s", l.prefix, level, msg)
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.debug.Load() {
		l.emit(l.out, "DEBUG", format, args...)
	}
}

func (l *DefaultLogger) Infof(format string, args ...any)  { l.emit(l.out, "INFO", format, args...) }
func (l *DefaultLogger) Warnf(format string, args ...any)  { l.emit(l.err, "WARN", format, args...) }
func (l *DefaultLogger) Errorf(format string, args ...any) { l.emit(l.err, "ERROR", format, args...) }

// Nop logger

type nopLogger struct{}

func NewNopLogger() Logger                             { return &nopLogger{} }
func (n *nopLogger) DebugEnabled() bool                { return false }
func (n *nopLogger) SetDebug(enabled bool)             {}
func (n *nopLogger) Debugf(format string, args ...any) {}
func (n *nopLogger) Infof(format string, args ...any)  {}
func (n *nopLogger) Warnf(format string, args ...any)  {}
func (n *nopLogger) Errorf(format string, args ...any) {}

// OrNop returns l, or a no-op logger when l is nil. Never returns nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}

// RecordingLogger keeps every formatted line. Tests use it to assert on soft-error warnings.
type RecordingLogger struct {
	mu    sync.Mutex
	Lines []string
}

func (r *RecordingLogger) record(level, format string, args ...any) {
	r.mu.Lock()
	r.Lines = append(r.Lines, level+": "+fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *RecordingLogger) DebugEnabled() bool                { return true }
func (r *RecordingLogger) SetDebug(enabled bool)             {}
func (r *RecordingLogger) Debugf(format string, args ...any) { r.record("DEBUG", format, args...) }
func (r *RecordingLogger) Infof(format string, args ...any)  { r.record("INFO", format, args...) }
func (r *RecordingLogger) Warnf(format string, args ...any)  { r.record("WARN", format, args...) }
func (r *RecordingLogger) Errorf(format string, args ...any) { r.record("ERROR", format, args...) }

// Count returns how many recorded lines carry the given level.
func (r *RecordingLogger) Count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, line := range r.Lines {
		if len(line) > len(level) && line[:len(level)] == level {
			n++
		}
	}
	return n
}
