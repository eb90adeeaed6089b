package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/kayserspace/waps-ies-sub000/internal/logging"
)

// setupLogger builds the global structured logger. When logPath is set, log
// lines go to both stderr and a date-rotating file under logPath (spec.md
// §4.G's "rotates the log file on date change").
func setupLogger(format, level, logPath string) (*slog.Logger, *logging.RotatingWriter, error) {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	var rot *logging.RotatingWriter
	if logPath != "" {
		r, err := logging.NewRotatingWriter(logPath, "waps-ies")
		if err != nil {
			return nil, nil, err
		}
		rot = r
		w = io.MultiWriter(os.Stderr, rot)
	}

	l := logging.New(format, lvl, w).With("app", "waps-ies")
	logging.Set(l)
	return l, rot, nil
}
