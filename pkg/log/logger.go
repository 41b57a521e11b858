package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel, falling back to info.
func ParseLevel(s string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(s))
	for level, levelName := range levelNames {
		if levelName == name {
			return level
		}
	}
	return LevelInfo
}

// Logger is a leveled printf-style logger backed by zap.
type Logger struct {
	level *zap.AtomicLevel
	base  *zap.Logger
	sugar *zap.SugaredLogger
	// outer skips one more frame for the package-level helpers
	outer *zap.SugaredLogger
}

func NewLogger(level LogLevel) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), atom)
	return newWithCore(core, &atom)
}

func newEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func newWithCore(core zapcore.Core, atom *zap.AtomicLevel) *Logger {
	base := zap.New(core, zap.AddCaller())
	return &Logger{
		level: atom,
		base:  base,
		sugar: base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		outer: base.WithOptions(zap.AddCallerSkip(2)).Sugar(),
	}
}

// SetLevel 设置日志级别
func (l *Logger) SetLevel(level LogLevel) {
	if l.level != nil {
		l.level.SetLevel(level.zapLevel())
	}
}

// With returns a child logger that attaches the given key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	child := l.base.Sugar().With(keysAndValues...).Desugar()
	return &Logger{
		level: l.level,
		base:  child,
		sugar: child.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		outer: child.WithOptions(zap.AddCallerSkip(2)).Sugar(),
	}
}

// Debug 记录调试信息
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info 记录信息
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn 记录警告信息
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error 记录错误信息
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Fatal 记录致命错误并退出
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// FileLogger 是文件日志记录器
type FileLogger struct {
	*Logger
	writer *lumberjack.Logger
}

// NewFileLogger 创建新的文件日志记录器, with size based rotation.
func NewFileLogger(logFile string, level LogLevel) (*FileLogger, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}

	atom := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewTee(
		zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), atom),
		zapcore.NewCore(newEncoder(), zapcore.AddSync(writer), atom),
	)

	return &FileLogger{
		Logger: newWithCore(core, &atom),
		writer: writer,
	}, nil
}

// Close 关闭日志文件
func (l *FileLogger) Close() error {
	_ = l.Sync()
	if l.writer != nil {
		return l.writer.Close()
	}
	return nil
}

// Global logger instance
var globalLogger *Logger

// InitLogger 初始化全局日志记录器
func InitLogger(level LogLevel) {
	globalLogger = NewLogger(level)
}

// SetLogger replaces the global logger.
func SetLogger(l *Logger) {
	if l != nil {
		globalLogger = l
	}
}

// GetLogger 获取全局日志记录器
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

// With returns a child of the global logger.
func With(keysAndValues ...any) *Logger {
	return GetLogger().With(keysAndValues...)
}

// Convenience functions
func Debug(format string, args ...interface{}) {
	GetLogger().outer.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().outer.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().outer.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().outer.Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().outer.Fatalf(format, args...)
}
