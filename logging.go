package secmon

import (
	"github.com/oarkflow/log"
)

// NewLogger builds the structured logger used across the monitor. Level is
// one of trace/debug/info/warn/error; empty means info.
func NewLogger(level string) log.Logger {
	logger := log.Logger{
		Level:  log.InfoLevel,
		Writer: &log.ConsoleWriter{ColorOutput: true},
	}
	if level != "" {
		logger.Level = log.ParseLevel(level)
	}
	return logger
}
