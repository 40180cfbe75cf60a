// Package logging builds the charm logger used by the pipeline and oracles.
// It is configured from PATCHDIFF_LOG_* environment variables.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and the writer it may own.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable.
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to a level. Anything else is info.
func ParseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           ParseLevel(os.Getenv("PATCHDIFF_LOG_LEVEL")),
	})

	prefix := os.Getenv("PATCHDIFF_LOG_PREFIX")
	if prefix == "" {
		prefix = "patchdiff"
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a logger based on environment variables:
// PATCHDIFF_LOG_LEVEL: debug, info, warn, error (default: info)
// PATCHDIFF_LOG_PREFIX: prefix for log messages (default: "patchdiff")
// PATCHDIFF_LOG_TO_FILE: when "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("PATCHDIFF_LOG_TO_FILE") == "1" {
		logFile := fmt.Sprintf("patchdiff-%s.log", time.Now().Format("20060102-150405"))
		if f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			output = f
		}
	}

	return NewLoggerWithWriter(output)
}

// IsDebug reports whether debug logging was requested.
func IsDebug() bool {
	return os.Getenv("PATCHDIFF_LOG_LEVEL") == "debug"
}
