// Package observability provides process-wide logging for the CLI.
//
// Commands log lifecycle events through CLILogger. Logs go to stderr so
// stdout stays reserved for JSONL records.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared command logger.
//
// It defaults to a no-op logger so packages can log before InitCLILogger
// runs (for example during flag parsing errors).
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for the given level and encoding.
//
// When structured is true, log lines are JSON (one object per line) for
// machine consumption. Otherwise a console encoder is used.
func InitCLILogger(level string, structured bool) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		NameKey:        "logger",
		CallerKey:      "",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var enc zapcore.Encoder
	if structured {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), parseLevel(level))
	CLILogger = zap.New(core)
}

// parseLevel maps a level string to a zap level. Unknown values fall
// back to info rather than failing command startup.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries. Errors are ignored because stderr
// does not support fsync on all platforms.
func Sync() {
	_ = CLILogger.Sync()
}
