// Package logger provides the per-subsystem loggers used throughout
// dragonstash: a flag-gated io.Writer wrapped in a stdlib *log.Logger,
// prefixed per caller.
//
// Beyond a plain on/off debug flag, this package also wires
// gopkg.in/natefinch/lumberjack.v2 for rotating file output when a log
// file path is configured.
package logger

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	output  io.Writer = os.Stderr
	verbose bool

	loggers = map[string]*log.Logger{}
)

// SetOutput redirects every subsystem logger's destination. Passing ""
// keeps os.Stderr; any other path opens (or creates) a rotating log
// file at that path via lumberjack, sized per the maxSizeMB/maxBackups/
// maxAgeDays knobs bound from cfg.
func SetOutput(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	mu.Lock()
	defer mu.Unlock()

	if path == "" {
		output = os.Stderr
	} else {
		output = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
	}
	for _, l := range loggers {
		l.SetOutput(output)
	}
}

// SetVerbose toggles whether Debugf-level messages are emitted by every
// subsystem logger, including ones created before this call, mirroring
// gcsproxy's fEnableDebug flag gate.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// For returns the named subsystem's logger, creating it on first use.
// Subsystem names in this repo: "store", "cache", "backend",
// "coordinator", "mount".
func For(subsystem string) *Logger {
	mu.Lock()
	defer mu.Unlock()
	l, ok := loggers[subsystem]
	if !ok {
		l = log.New(output, "dragonstash: "+subsystem+": ", log.LstdFlags)
		loggers[subsystem] = l
	}
	return &Logger{std: l, subsystem: subsystem}
}

// Logger is a thin wrapper adding a verbosity-gated Debugf on top of
// the stdlib logger For hands out.
type Logger struct {
	std       *log.Logger
	subsystem string
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(format, args...)
}

// Debugf only prints when SetVerbose(true) has been called, matching
// gcsproxy's single debug-gated writer but scoped per log call instead
// of per writer, so the same *Logger can carry both always-on and
// debug-only output.
func (l *Logger) Debugf(format string, args ...interface{}) {
	mu.Lock()
	v := verbose
	mu.Unlock()
	if v {
		l.std.Printf(format, args...)
	}
}
