// Package logger wraps zap with optional lumberjack file rotation
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger
type Options struct {
	Level  string // debug, info, warn, error
	Output string // stdout, stderr, file
	File   string // path used when Output is "file"
}

// RotationConfig holds lumberjack limits
type RotationConfig struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var defaultRotation = RotationConfig{MaxSize: 100, MaxBackups: 3, MaxAge: 28, Compress: true}

var (
	mu      sync.RWMutex
	current = zap.NewNop()
)

func init() {
	l, err := New(Options{Level: "info", Output: "stdout"})
	if err != nil {
		panic(fmt.Sprintf("logger: %v", err))
	}
	current = l
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	cfg.CallerKey = "caller"
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.LevelKey = "level"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.MessageKey = "message"
	return cfg
}

// New builds a zap logger from options
func New(opts Options) (*zap.Logger, error) {
	level := ParseLevel(opts.Level)

	var sink zapcore.WriteSyncer
	switch strings.ToLower(opts.Output) {
	case "file":
		if opts.File == "" {
			return nil, fmt.Errorf("log output is file but no file path was given")
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultRotation.MaxSize,
			MaxBackups: defaultRotation.MaxBackups,
			MaxAge:     defaultRotation.MaxAge,
			Compress:   defaultRotation.Compress,
		})
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	default:
		sink = zapcore.Lock(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// Init replaces the process-wide logger
func Init(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the process-wide logger
func Set(l *zap.Logger) {
	mu.Lock()
	old := current
	current = l
	mu.Unlock()
	_ = old.Sync()
}

// L returns the process-wide logger for structured fields
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current.WithOptions(zap.AddCallerSkip(-1))
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// ParseLevel maps a level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func Debug(format string, args ...interface{}) {
	get().Debug(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	get().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	get().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	get().Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	get().Fatal(fmt.Sprintf(format, args...))
}

// Sync flushes buffered entries
func Sync() {
	_ = get().Sync()
}
