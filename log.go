package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// newLogger creates a timestamped logger writing to w at level.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// setupLogging routes slog through charmbracelet/log. verbose wins over
// the LOG_LEVEL name.
func setupLogging(w io.Writer, levelName string, verbose bool) error {
	level := log.InfoLevel
	if levelName != "" {
		parsed, err := log.ParseLevel(strings.ToLower(levelName))
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL %q: %w", levelName, err)
		}
		level = parsed
	}
	if verbose {
		level = log.DebugLevel
	}
	slog.SetDefault(slog.New(newLogger(w, level)))
	return nil
}
