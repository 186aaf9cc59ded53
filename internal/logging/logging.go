// Package logging sets up the proxy's two log streams: a process log
// for operational events (bind failures, cache evictions, transient
// socket errors) and a rotating access log, one line per closed
// connection. Grounded on the teacher's main.go init() and
// server/mod/accesslog.go, both built on zap.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide structured logger. *zap.SugaredLogger
// already satisfies internal/cache.Logger (Infof/Warnf) without any
// adapter.
type Logger = zap.SugaredLogger

// New builds a development-style console logger: human-readable,
// leveled, timestamped with RFC3339 — the same shape as the teacher's
// `log.With(log.DefaultLogger, "ts", log.Timestamp(time.RFC3339), "pid", ...)`
// initialization, expressed directly in zap since this module does not
// carry the teacher's own contrib/log indirection.
func New(verbose bool) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	base, err := cfg.Build(zap.Fields(zap.Int("pid", os.Getpid())))
	if err != nil {
		// Fallback logger from inputs fixed at build time cannot
		// realistically fail; if it does, zap's example logger on
		// stdout is better than a nil pointer deref on first use.
		base = zap.NewExample()
	}
	return base.Sugar()
}

// AccessLog is the one-line-per-connection sink described in spec.md
// §4.2's CLOSE state. Each line is a fixed-format summary; it does not
// share the process logger's encoder because it has no levels or
// timestamps of its own — every field it needs is passed explicitly by
// the caller (spec.md's "request id, method, host, path, outcome,
// bytes streamed, cache outcome, elapsed time").
type AccessLog struct {
	w *zap.Logger
}

// NewAccessLog opens (creating parent directories as needed) a
// lumberjack-rotated sink at path. Grounded on the teacher's
// newAccessLog: a bare zapcore.Core over a lumberjack writer, with
// time and level encoders suppressed since the caller supplies its own
// fields.
func NewAccessLog(path string) *AccessLog {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		LocalTime:  true,
	}

	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	cfg.EncodeLevel = func(zapcore.Level, zapcore.PrimitiveArrayEncoder) {}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(sink), zapcore.InfoLevel)
	return &AccessLog{w: zap.New(core)}
}

// Write emits one access-log line with the given fields.
func (a *AccessLog) Write(requestID, method, host, path, outcome, cacheOutcome string, bytesStreamed int64, elapsed time.Duration) {
	a.w.Info("request",
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("host", host),
		zap.String("path", path),
		zap.String("outcome", outcome),
		zap.String("cache", cacheOutcome),
		zap.Int64("bytes", bytesStreamed),
		zap.Duration("elapsed", elapsed),
	)
}

// Sync flushes any buffered log entries. Call on shutdown.
func (a *AccessLog) Sync() error {
	return a.w.Sync()
}
