// Package logging implements the cinder logging subsystem on top of
// zap, keeping a printf-style surface for the rest of the daemon.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo, LevelNotice:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides leveled, printf-style logging. It satisfies
// service.ServiceLogger.
type Logger struct {
	mu    sync.Mutex
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// New creates a Logger writing to stderr with the given minimum level.
func New(level Level) *Logger {
	atomic := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		atomic,
	)
	return &Logger{
		s:     zap.New(core).Sugar(),
		level: atomic,
	}
}

// SetLevel changes the minimum logging level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// SetupExternalLog redirects logging to a rotating file. Used once a
// log-ready service has started and the log target is writable.
func (l *Logger) SetupExternalLog(path string, maxSizeMB, maxBackups int) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stderr), l.level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), sink, l.level),
	)

	l.mu.Lock()
	l.s = zap.New(core).Sugar()
	l.mu.Unlock()
	l.Info("Logging to %s", path)
}

func (l *Logger) sugar() *zap.SugaredLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar().Debugf(format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar().Infof(format, args...)
}

// Notice logs notable lifecycle events; zap has no notice level, so
// these land at info.
func (l *Logger) Notice(format string, args ...interface{}) {
	l.sugar().Infof(format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar().Warnf(format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar().Errorf(format, args...)
}

// ServiceStarted logs a service start event.
func (l *Logger) ServiceStarted(name string) {
	l.Info("Service '%s' started", name)
}

// ServiceStopped logs a service stop event.
func (l *Logger) ServiceStopped(name string) {
	l.Info("Service '%s' stopped", name)
}

// ServiceFailed logs a service failure event.
func (l *Logger) ServiceFailed(name string, depFailed bool) {
	if depFailed {
		l.Error("Service '%s' failed to start (dependency failed)", name)
	} else {
		l.Error("Service '%s' failed to start", name)
	}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar().Sync()
}
