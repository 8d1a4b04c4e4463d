// Package logging builds the loggers the rest of the program shares: plain
// stderr loggers for interactive commands, and a size-rotated file logger for
// the long-running daemon.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a stderr logger with the given component prefix.
func New(prefix string) *log.Logger {
	return log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)
}

// NewRotating returns a logger writing to path with size-based rotation, and
// the writer so the caller can close it on shutdown. The daemon uses this;
// rotation keeps a handful of compressed generations so a field device never
// fills its disk with logs.
func NewRotating(path, prefix string) (*log.Logger, io.WriteCloser) {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return log.New(w, "["+prefix+"] ", log.LstdFlags), w
}

// Tee returns a logger writing to both the rotating file writer and stderr,
// for daemons run in the foreground.
func Tee(w io.Writer, prefix string) *log.Logger {
	return log.New(io.MultiWriter(w, os.Stderr), "["+prefix+"] ", log.LstdFlags)
}
