package atom

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
)

// LogLevel is a Unix syslog severity (spec.md §3's Log frame "level"
// field), 0 (EMERG) through 8 (DEBUG). Mirrors atom/config.py's
// MetricsLevel/LogLevel enum.
type LogLevel int

const (
	LogEmerg LogLevel = iota
	LogAlert
	LogCrit
	LogErr
	LogWarning
	LogNotice
	LogInfo
	LogTiming
	LogDebug
)

// slogLevel collapses the 9-value syslog severity range onto slog's
// four levels, the way a structured logger that only distinguishes
// Debug/Info/Warn/Error naturally must.
func (l LogLevel) slogLevel() slog.Level {
	switch {
	case l <= LogCrit:
		return slog.LevelError
	case l == LogErr:
		return slog.LevelError
	case l == LogWarning:
		return slog.LevelWarn
	case l == LogNotice || l == LogInfo:
		return slog.LevelInfo
	default: // LogTiming, LogDebug
		return slog.LevelDebug
	}
}

// newDefaultLogger builds a JSON slog.Logger writing to stdout at Info
// level, with source locations included, matching internal/logger.New's
// production default ("json" format).
func newDefaultLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: true,
	}))
}

// Log appends a structured frame {element, host, level, msg} to the
// shared "log" stream (spec.md §4.3) and mirrors it to the element's
// local slog.Logger. It is fire-and-forget: a transport failure here is
// logged locally but never returned, matching the Python binding's
// "swallow except during init" behavior -- by the time an element is
// constructed and calling Log, init has already proven connectivity.
//
// alsoStdout additionally writes msg as a local slog record (in
// addition to the stream append, which always happens); set it false
// to keep routine/internal logging out of the process's own stdout
// while still recording it on the shared stream for other elements
// (and operators tailing the stream) to see.
func (e *Element) Log(level LogLevel, msg string, alsoStdout bool) {
	frame := logFrame{Element: e.name, Host: e.host, Level: int(level), Msg: msg}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultResponseTimeout)
	defer cancel()
	err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: logStreamKey,
			MaxLen: DefaultStreamLen,
			Approx: true,
			Values: frame.values(),
		})
	})
	if err != nil {
		e.logger.Warn("failed to append to log stream", "error", err)
	}

	if alsoStdout {
		e.logger.Log(ctx, level.slogLevel(), msg, "element", e.name)
	}
}
