package main

import (
	"io"
	"log/slog"

	"github.com/example/tcpecho/pkg/echorelay"
)

// newLogger создает текстовый slog логгер и уровень debug логов библиотеки
// по значению флага -log-level.
func newLogger(w io.Writer, level int) (*slog.Logger, echorelay.LogLevel) {
	slogLevel := slog.LevelInfo
	if level > 0 {
		slogLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slogLevel,
	}))

	switch level {
	case 1:
		return logger, echorelay.LogLevelDebug1
	case 2:
		return logger, echorelay.LogLevelDebug2
	case 3:
		return logger, echorelay.LogLevelDebug3
	default:
		return logger, echorelay.LogLevelInfo
	}
}
