// Package logger provides the process-wide structured logger: a small
// Init/Get/Info API backed by zap. Components take a named child with
// Named.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

// Config holds logger configuration
type Config struct {
	Level     string // DEBUG, INFO, WARN, ERROR
	Format    string // json, console
	AddSource bool
}

// Init (re)initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = zapcore.DebugLevel
	case "WARN":
		level = zapcore.WarnLevel
	case "ERROR":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "console" || cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Sampling = nil
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableCaller = !cfg.AddSource
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return nil
}

// Get returns the global logger, falling back to a no-op logger when Init
// was never called (library use, tests).
func Get() *zap.SugaredLogger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}

// Named returns a child logger scoped to a component.
func Named(component string) *zap.SugaredLogger {
	return Get().Named(component)
}

// Sync flushes buffered entries.
func Sync() {
	_ = Get().Sync()
}

// Helper functions for quick logging
func Info(msg string, args ...any) {
	Get().Infow(msg, args...)
}

func Error(msg string, args ...any) {
	Get().Errorw(msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debugw(msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warnw(msg, args...)
}
