package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level 日志级别
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// Logger 对zap的简单封装，保留可动态调整的日志级别
type Logger struct {
	l     *zap.Logger
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

var std atomic.Pointer[Logger]

func init() {
	std.Store(New(os.Stderr, InfoLevel))
}

// New 创建日志实例
// 参数：
//   - out：日志输出目标
//   - level：初始日志级别
//   - opts：附加的zap选项
func New(out io.Writer, level Level, opts ...zap.Option) *Logger {
	if out == nil {
		out = os.Stderr
	}
	al := zap.NewAtomicLevelAt(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), al)
	opts = append([]zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}, opts...)
	l := zap.New(core, opts...)
	return &Logger{l: l, s: l.Sugar(), level: al}
}

// NewProductionRotateByTime 按天切割的日志文件，保留7天
// 创建失败时退回标准错误输出
func NewProductionRotateByTime(filename string) io.Writer {
	w, err := rotatelogs.New(
		filename+".%Y%m%d",
		rotatelogs.WithLinkName(filename),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		Errorf("[LOGGER] 创建按时间切割的日志失败: %v", err)
		return os.Stderr
	}
	return w
}

// NewProductionRotateBySize 按大小切割的日志文件
// 参数：
//   - filename：日志文件路径
//   - maxSizeMB：单个文件的最大大小（MB），<=0时使用100MB
func NewProductionRotateBySize(filename string, maxSizeMB int) io.Writer {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		MaxAge:     7,
		Compress:   true,
	}
}

// ParseLevel 解析配置中的级别字符串，无法识别时返回InfoLevel
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// ReplaceDefault 替换包级默认日志实例
func ReplaceDefault(l *Logger) {
	if l != nil {
		std.Store(l)
	}
}

// Default 返回当前默认日志实例
func Default() *Logger { return std.Load() }

// SetLevel 调整默认日志实例的级别
func SetLevel(level Level) { std.Load().level.SetLevel(level) }

// Sync 刷新缓冲的日志
func Sync() error { return std.Load().l.Sync() }

func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level) }
func (l *Logger) Level() Level         { return l.level.Level() }
func (l *Logger) Sync() error          { return l.l.Sync() }

func (l *Logger) Debug(args ...interface{})                 { l.s.Debug(args...) }
func (l *Logger) Info(args ...interface{})                  { l.s.Info(args...) }
func (l *Logger) Warn(args ...interface{})                  { l.s.Warn(args...) }
func (l *Logger) Error(args ...interface{})                 { l.s.Error(args...) }
func (l *Logger) Fatal(args ...interface{})                 { l.s.Fatal(args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.s.Fatalf(format, args...) }

func Debug(args ...interface{})                 { std.Load().s.Debug(args...) }
func Info(args ...interface{})                  { std.Load().s.Info(args...) }
func Warn(args ...interface{})                  { std.Load().s.Warn(args...) }
func Error(args ...interface{})                 { std.Load().s.Error(args...) }
func Fatal(args ...interface{})                 { std.Load().s.Fatal(args...) }
func Debugf(format string, args ...interface{}) { std.Load().s.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Load().s.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { std.Load().s.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Load().s.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { std.Load().s.Fatalf(format, args...) }
