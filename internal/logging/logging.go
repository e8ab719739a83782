package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName returns the log file name for a run stamp, e.g. lbm-2024-01-31-23-59.log
func FileName(stamp string) string {
	return fmt.Sprintf("lbm-%s.log", stamp)
}

// New creates a logger that writes text lines to console and to a per-run file in logDir.
// The returned closer flushes and closes the log file.
func New(console io.Writer, logDir, stamp string, level slog.Level) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName(stamp)),
		MaxSize:    100, // megabytes
		MaxBackups: 3,
	}

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(console, file), &slog.HandlerOptions{
		Level: level,
	}))

	return logger, file, nil
}
