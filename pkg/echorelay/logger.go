package echorelay

import (
	"context"
	"log/slog"
)

// NewNoopLogger создает логгер, который игнорирует все сообщения.
// Полезно для тестирования или когда логгирование не требуется.
func NewNoopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// debugLogger пропускает debug сообщения только при достаточном LogLevel.
type debugLogger struct {
	*slog.Logger
	level LogLevel
}

func newDebugLogger(logger *slog.Logger, level LogLevel) debugLogger {
	return debugLogger{Logger: logger, level: level}
}

// debug логгирует сообщение, если текущий уровень не ниже min.
func (l debugLogger) debug(min LogLevel, msg string, args ...any) {
	if l.level < min {
		return
	}
	l.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (l debugLogger) with(args ...any) debugLogger {
	return debugLogger{Logger: l.Logger.With(args...), level: l.level}
}
