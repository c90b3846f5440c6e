package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates a dual-output logger: text to stderr at level, JSON to
// logFile at level or Info, whichever is lower, so interactive commands can
// keep stderr quiet while the file still records each turn.
// An empty logFile, or one that cannot be opened, yields a stderr-only logger.
// The returned func closes the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	if logFile == "" {
		return slog.New(stderrHandler(os.Stderr, level)), noop
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		slog.Error("failed to create log directory, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrHandler(os.Stderr, level)), noop
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrHandler(os.Stderr, level)), noop
	}

	return fanout(os.Stderr, file, level), file.Close
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return fanout(stderr, file, level)
}

func fanout(stderr, file io.Writer, level slog.Level) *slog.Logger {
	fileLevel := min(level, slog.LevelInfo)
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: fileLevel})
	return slog.New(slogmulti.Fanout(stderrHandler(stderr, level), fileHandler))
}

func stderrHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
