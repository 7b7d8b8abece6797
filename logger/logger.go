// Package logger provides the module-wide structured logger: slog
// underneath, severity levels matching cfg.LogSeverity, and an
// optional rotating file sink. It is used for backend faults, watchdog
// trips, and checksum mismatches, never for control flow.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/inodefs/corefs/cfg"
)

// LevelTrace sits below slog.LevelDebug; slog has no native TRACE.
const LevelTrace = slog.Level(-8)

var (
	mu            sync.RWMutex
	programLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(newHandler(os.Stderr, "text", programLevel))
)

// severityName maps a slog level to the severity label the log output
// carries.
func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= slog.LevelDebug:
		return "DEBUG"
	case l <= slog.LevelInfo:
		return "INFO"
	case l <= slog.LevelWarn:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				return slog.String("severity", severityName(lvl))
			}
			return a
		},
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func levelFor(sev cfg.LogSeverity) slog.Level {
	switch sev {
	case cfg.TraceLevel:
		return LevelTrace
	case cfg.DebugLevel:
		return slog.LevelDebug
	case cfg.InfoLevel:
		return slog.LevelInfo
	case cfg.WarningLevel:
		return slog.LevelWarn
	case cfg.ErrorLevel:
		return slog.LevelError
	default:
		// OFF: above every level this package emits.
		return slog.LevelError + 4
	}
}

// Init points the package logger at the sink and severity c describes:
// stderr, or a rotating file when c.FilePath is set.
func Init(c cfg.LoggingConfig) {
	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
	}
	InitWithWriter(w, c)
}

// InitWithWriter is Init with the sink supplied by the caller; tests
// pass a buffer here.
func InitWithWriter(w io.Writer, c cfg.LoggingConfig) {
	mu.Lock()
	defer mu.Unlock()
	programLevel.Set(levelFor(c.Severity))
	defaultLogger = slog.New(newHandler(w, c.Format, programLevel))
}

func log(level slog.Level, format string, args ...any) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { log(LevelTrace, format, args...) }

func Debugf(format string, args ...any) { log(slog.LevelDebug, format, args...) }

func Infof(format string, args ...any) { log(slog.LevelInfo, format, args...) }

func Warnf(format string, args ...any) { log(slog.LevelWarn, format, args...) }

func Errorf(format string, args ...any) { log(slog.LevelError, format, args...) }
