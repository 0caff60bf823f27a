// Package logger provides a centralized logging configuration for gaze
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global logger instance
	gazeLogger *zap.Logger
	mu         sync.Mutex
)

// LogConfig holds the logging configuration
type LogConfig struct {
	Level       string
	OutputPath  string // empty logs to stderr only
	MaxSize     int    // megabytes
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
	Development bool
	EnableJSON  bool
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *LogConfig {
	return &LogConfig{
		Level:       "info",
		OutputPath:  "",
		MaxSize:     100,
		MaxBackups:  5,
		MaxAge:      30,
		Compress:    true,
		Development: false,
		EnableJSON:  false,
	}
}

// Initialize sets up the global logger with the given configuration
func Initialize(cfg *LogConfig) error {
	l, err := Build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	gazeLogger = l
	mu.Unlock()

	// Replace global logger
	zap.ReplaceGlobals(l)

	return nil
}

// Build creates a logger from cfg without installing it globally
func Build(cfg *LogConfig) (*zap.Logger, error) {
	// Parse log level
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// Create encoder config
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Configure encoder based on development mode
	var encoder zapcore.Encoder
	if cfg.Development && !cfg.EnableJSON {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else if cfg.EnableJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writers []zapcore.WriteSyncer

	if cfg.OutputPath != "" {
		// Create log directory if it doesn't exist
		logDir := filepath.Dir(cfg.OutputPath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, err
		}

		// Configure file output with rotation
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
	}

	// Console output when there is no file, or in development mode
	if cfg.OutputPath == "" || cfg.Development {
		writers = append(writers, zapcore.Lock(os.Stderr))
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(writers...),
		zap.NewAtomicLevelAt(level),
	)

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}

	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return zap.New(core, opts...), nil
}

// Get returns the global logger instance
func Get() *zap.Logger {
	mu.Lock()
	l := gazeLogger
	mu.Unlock()
	if l != nil {
		return l
	}

	// Initialize with default config if not already initialized
	if err := Initialize(DefaultConfig()); err != nil {
		return zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	return gazeLogger
}

// Named returns the global logger scoped to a component
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.Lock()
	l := gazeLogger
	mu.Unlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

// WithWatcherID creates a logger carrying the id of a watcher instance
func WithWatcherID(id string) *zap.Logger {
	return Get().With(zap.String("watcher_id", id))
}
