package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// LogLevel читает уровень логирования из LOG_LEVEL
// (debug, info, warn, error; default: info).
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// LOG_FORMAT управляет форматом вывода:
//   - "json" (default) — для production
//   - "text" — человекочитаемый, для разработки
//
// На уровне debug в записи добавляется источник вызова.
func SetupLogger() *slog.Logger {
	level := LogLevel()
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// WithCaseID возвращает логгер с привязанным case_id.
func WithCaseID(logger *slog.Logger, caseID string) *slog.Logger {
	return logger.With("case_id", caseID)
}

// WithTaskID возвращает логгер с привязанным task_id.
func WithTaskID(logger *slog.Logger, taskID string) *slog.Logger {
	return logger.With("task_id", taskID)
}

// WithCorrelationID возвращает логгер с привязанным correlation_id.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	if correlationID == "" {
		return logger
	}
	return logger.With("correlation_id", correlationID)
}
