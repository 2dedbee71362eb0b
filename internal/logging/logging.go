// Package logging configures the process-wide slog logger.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

var errUnknownLogLevel = errors.New("unexpected log level")

// Configure sets the slog default logger to the given level, writing text to
// stdout or, when logFile names a path, JSON to that file.
//
// Valid levels are "none", "error", "warn", "info" and "debug". The returned
// *os.File is non-nil when a log file was opened, so the caller can close it
// on shutdown:
//
//	logFilePointer, err := logging.Configure(level, file)
//	if logFilePointer != nil {
//		defer logFilePointer.Close()
//	}
func Configure(logLevel string, logFile string) (*os.File, error) {
	var options slog.HandlerOptions

	switch logLevel {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		options.Level = slog.LevelError
	case "warn":
		options.Level = slog.LevelWarn
	case "info":
		options.Level = slog.LevelInfo
	case "debug":
		options.Level = slog.LevelDebug
	default:
		return nil, errUnknownLogLevel
	}

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &options)))
		return nil, nil
	}

	logFilePointer, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(logFilePointer, &options)))
	return logFilePointer, nil
}
