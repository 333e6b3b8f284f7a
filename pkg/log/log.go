package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel string

const (
	FatalLevel    LogLevel = "fatal"
	ErrorLevel    LogLevel = "error"
	WarningLevel  LogLevel = "warn"
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	TraceLevel    LogLevel = "trace"
	DisabledLevel LogLevel = "disabled"
)

var levelmap = map[LogLevel]int{
	TraceLevel:    5,
	DebugLevel:    4,
	InfoLevel:     3,
	WarningLevel:  2,
	ErrorLevel:    1,
	FatalLevel:    0,
	DisabledLevel: -1,
}

// zap has no trace level, it sits one step below debug.
const zapTraceLevel = zapcore.DebugLevel - 1

var zapLevelMap = map[LogLevel]zapcore.Level{
	TraceLevel:   zapTraceLevel,
	DebugLevel:   zapcore.DebugLevel,
	InfoLevel:    zapcore.InfoLevel,
	WarningLevel: zapcore.WarnLevel,
	ErrorLevel:   zapcore.ErrorLevel,
	FatalLevel:   zapcore.ErrorLevel,
}

var logfFuncMap = map[LogLevel]func(msg string, args ...interface{}){
	TraceLevel:   Tracef,
	DebugLevel:   Debugf,
	InfoLevel:    Infof,
	WarningLevel: Warnf,
	ErrorLevel:   Errorf,
	FatalLevel:   Fatalf,
}

var logFuncMap = map[LogLevel]func(args ...interface{}){
	TraceLevel:   Trace,
	DebugLevel:   Debug,
	InfoLevel:    Info,
	WarningLevel: Warn,
	ErrorLevel:   Error,
	FatalLevel:   Fatal,
}

// Config selects the log sink.
// Without a file, info and below go to stdout and warnings and above to stderr.
type Config struct {
	// Log level, one of the level names above.
	Level string `mapstructure:"level"`

	// Encoding, "console" or "json".
	Format string `mapstructure:"format"`

	// Path to a log file. Empty logs to the console.
	File string `mapstructure:"file"`

	// Rotate the log file.
	Rotate bool `mapstructure:"rotate"`

	// Rotation limits, see lumberjack.Logger.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

type logWrapper struct {
	mu     sync.RWMutex
	level  LogLevel
	stdout *zap.SugaredLogger
	stderr *zap.SugaredLogger
}

func (l *logWrapper) sink(level LogLevel) *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !ShouldLog(level, l.level) {
		return nil
	}
	if levelmap[level] <= levelmap[WarningLevel] {
		return l.stderr
	}
	return l.stdout
}

func (l *logWrapper) Printf(level LogLevel, format string, args ...any) {
	if s := l.sink(level); s != nil {
		s.Logf(zapLevelMap[level], format, args...)
	}
}

func (l *logWrapper) Println(level LogLevel, args ...any) {
	if s := l.sink(level); s != nil {
		s.Logln(zapLevelMap[level], args...)
	}
}

var logger logWrapper

func init() {
	logger.level = InfoLevel
	logger.stdout = newConsoleLogger(os.Stdout, "console")
	logger.stderr = newConsoleLogger(os.Stderr, "console")
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == zapTraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = encodeLevel
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func newConsoleLogger(w io.Writer, format string) *zap.SugaredLogger {
	core := zapcore.NewCore(newEncoder(format), zapcore.AddSync(w), zapTraceLevel)
	return zap.New(core).Sugar()
}

// Setup reconfigures the log sink and level.
func Setup(c Config) error {
	level := LogLevel(strings.ToLower(c.Level))
	if level == "" {
		level = GetLevel()
	}
	if !ValidLogLevel(level) {
		return fmt.Errorf("No such log level %s", c.Level)
	}

	var stdout, stderr *zap.SugaredLogger

	if c.File != "" {
		var ws zapcore.WriteSyncer
		if c.Rotate {
			ws = zapcore.AddSync(&lumberjack.Logger{
				Filename:   c.File,
				MaxSize:    max(c.MaxSizeMB, 10),
				MaxBackups: max(c.MaxBackups, 1),
				MaxAge:     max(c.MaxAgeDays, 7),
			})
		} else {
			f, err := os.OpenFile(c.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			ws = zapcore.AddSync(f)
		}
		stdout = zap.New(zapcore.NewCore(newEncoder(c.Format), ws, zapTraceLevel)).Sugar()
		stderr = stdout
	} else {
		stdout = newConsoleLogger(os.Stdout, c.Format)
		stderr = newConsoleLogger(os.Stderr, c.Format)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.level = level
	logger.stdout = stdout
	logger.stderr = stderr
	return nil
}

func SetLevel(loglevel LogLevel) error {
	_, ok := levelmap[loglevel]
	if !ok {
		return fmt.Errorf("No such log level %s", loglevel)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.level = loglevel
	return nil
}

func GetLevel() LogLevel {
	logger.mu.RLock()
	defer logger.mu.RUnlock()
	return logger.level
}

func ValidLogLevel(level LogLevel) bool {
	_, ok := levelmap[level]
	return ok
}

func ShouldLog(logLevel, enabled LogLevel) bool {
	if !ValidLogLevel(logLevel) || !ValidLogLevel(enabled) {
		return false
	}
	return levelmap[logLevel] <= levelmap[enabled]
}

func Log(level LogLevel, msg string, args ...interface{}) {
	if ValidLogLevel(level) {
		if len(args) > 0 {
			logfFuncMap[level](msg, args...)
		} else {
			logFuncMap[level](msg)
		}
	}
}

// Sync flushes buffered log entries.
func Sync() {
	logger.mu.RLock()
	defer logger.mu.RUnlock()
	_ = logger.stdout.Sync()
	_ = logger.stderr.Sync()
}

func Trace(args ...interface{}) {
	logger.Println(TraceLevel, args...)
}

func Debug(args ...interface{}) {
	logger.Println(DebugLevel, args...)
}

func Info(args ...interface{}) {
	logger.Println(InfoLevel, args...)
}

func Warn(args ...interface{}) {
	logger.Println(WarningLevel, args...)
}

func Error(args ...interface{}) {
	logger.Println(ErrorLevel, args...)
}

func Fatal(args ...interface{}) {
	logger.Println(FatalLevel, args...)
	Sync()
	debug.PrintStack()
	os.Exit(1)
}

func Tracef(format string, args ...interface{}) {
	logger.Printf(TraceLevel, format, args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Printf(DebugLevel, format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Printf(InfoLevel, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Printf(WarningLevel, format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Printf(ErrorLevel, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Printf(FatalLevel, format, args...)
	Sync()
	debug.PrintStack()
	os.Exit(1)
}

func NewLogger() *log.Logger {
	return log.New(NewLogWriter(DebugLevel), "", 0)
}

type writeFunc func([]byte) (int, error)

func (fn writeFunc) Write(data []byte) (int, error) {
	return fn(data)
}

func NewLogWriter(level LogLevel) io.Writer {
	return writeFunc(func(data []byte) (int, error) {
		Log(level, "%s", strings.TrimRight(string(data), "\n"))
		return len(data), nil
	})
}

func DebugError(err error) {
	indent := 1

	Debug(err.Error())

	for {
		if err = errors.Unwrap(err); err == nil {
			break
		}

		Debugf("| %d: %s", indent, err.Error())
		indent += 1
	}
}
