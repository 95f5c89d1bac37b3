package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels
const (
	LevelDebug = log.LevelDebug
	LevelInfo  = log.LevelInfo
)

// Options selects where and how verbosely to log.
type Options struct {
	File    string // empty logs to stdout
	Verbose bool
	MaxSize int // megabytes before the log file is rotated
}

// New creates a new logger writing to stdout at info level
func New() log.Logger {
	return NewWriter(os.Stdout, LevelInfo)
}

// NewWriter creates a new logger that writes to the provided writer
func NewWriter(w io.Writer, lvl slog.Level) log.Logger {
	return log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, false))
}

// Discard returns a logger that drops every record.
func Discard() log.Logger {
	return NewWriter(io.Discard, LevelInfo)
}

// Open builds the process logger from opts. The returned closer releases the
// log file, if any.
func Open(opts Options) (log.Logger, io.Closer) {
	lvl := LevelInfo
	if opts.Verbose {
		lvl = LevelDebug
	}
	if opts.File == "" {
		return NewWriter(os.Stdout, lvl), nopCloser{}
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	file := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  maxSize,
		Compress: true,
	}
	return NewWriter(file, lvl), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
