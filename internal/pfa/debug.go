package pfa

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

type stream int

const (
	streamOps stream = iota
	streamDiag
	streamTrace
	numStreams
)

// Each stream carries its own prefix so output stays attributable when
// several streams share one writer.
var streamPrefix = [numStreams]string{
	streamOps:   "[pfa:ops] ",
	streamDiag:  "[pfa:diag] ",
	streamTrace: "[pfa:trace] ",
}

var (
	mu      sync.RWMutex
	loggers [numStreams]*log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	for s, out := range [numStreams]io.Writer{w.Ops, w.Diag, w.Trace} {
		loggers[s] = newLogger(streamPrefix[s], out)
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func logger(s stream) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return loggers[s]
}

func logf(s stream, format string, args []interface{}) {
	if l := logger(s); l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream (failures, run lifecycle, summaries).
func Opsf(format string, args ...interface{}) { logf(streamOps, format, args) }

// Diagf logs to the diag stream (per-merge decisions, tuning context).
func Diagf(format string, args ...interface{}) { logf(streamDiag, format, args) }

// Tracef logs to the trace stream (per-pair contact telemetry).
func Tracef(format string, args ...interface{}) { logf(streamTrace, format, args) }

// TraceEnabled reports whether the trace stream has a writer. Callers use
// it to skip building expensive trace arguments.
func TraceEnabled() bool {
	return logger(streamTrace) != nil
}
