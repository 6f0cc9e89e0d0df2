// Package logger installs the process-wide slog default.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Init configures the default logger. Output goes to stderr, with a copy
// appended to logFile when set. The level string is parsed by slog; empty
// means info, anything unrecognized is a configuration error.
func Init(level, logFile string) error {
	var lv slog.LevelVar
	if level != "" {
		if err := lv.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &lv})))
	return nil
}
