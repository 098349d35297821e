// internal/logger/logger.go
package logger

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger configuration
type Config struct {
	LogsDirectory string
	LogFileFormat string
	TimeZone      string
	Debug         bool
}

var (
	initialized int32 // 0 = not initialized, 1 = initialized
	base        *zap.Logger
	sugar       *zap.SugaredLogger
	timeZone    = time.Local
	logFilePath string
	logFile     *os.File
	mu          sync.Mutex // protect against concurrent initialization
)

// SetupLogger initializes the logger with a console core on stdout and a JSON
// core writing to a dated file in the logs directory.
func SetupLogger(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 1 {
		return fmt.Errorf("logger already initialized")
	}

	if config.TimeZone == "" || config.TimeZone == "Local" {
		timeZone = time.Local
	} else {
		loc, err := time.LoadLocation(config.TimeZone)
		if err != nil {
			return fmt.Errorf("failed to load time zone '%s': %w", config.TimeZone, err)
		}
		timeZone = loc
	}

	if config.LogFileFormat == "" {
		config.LogFileFormat = "server_%s.log"
	}
	if err := os.MkdirAll(config.LogsDirectory, 0775); err != nil {
		return fmt.Errorf("failed to create logs directory '%s': %w", config.LogsDirectory, err)
	}

	logFileName := fmt.Sprintf(config.LogFileFormat, time.Now().In(timeZone).Format("2006-01-02"))

	// Respect whether LogFileFormat is an absolute path or not
	if filepath.IsAbs(logFileName) {
		logFilePath = logFileName
	} else {
		logFilePath = filepath.Join(config.LogsDirectory, logFileName)
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilePath, err)
	}
	logFile = f

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if config.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(timeZone).Format("2006-01-02 15:04:05 MST"))
	}
	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level),
	)

	install(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)))
	LogInfo("Logger initialized, writing to %s", logFilePath)
	return nil
}

// UseNop routes all logging to a no-op core. Intended for tests.
func UseNop() {
	mu.Lock()
	defer mu.Unlock()
	install(zap.NewNop())
}

func install(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
	atomic.StoreInt32(&initialized, 1)
}

// Sync flushes buffered entries and closes the log file.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Zap exposes the underlying logger for libraries that want a *zap.Logger.
func Zap() *zap.Logger {
	if !IsInitialized() {
		return zap.NewNop()
	}
	return base
}

func GetLogFilePath() string {
	return logFilePath
}

func IsInitialized() bool {
	return atomic.LoadInt32(&initialized) == 1
}

func LogMessage(level zapcore.Level, message string, v ...interface{}) {
	if !IsInitialized() {
		log.Printf("[%s] %s", level.CapitalString(), fmt.Sprintf(message, v...))
		return
	}
	switch level {
	case zapcore.DebugLevel:
		sugar.Debugf(message, v...)
	case zapcore.WarnLevel:
		sugar.Warnf(message, v...)
	case zapcore.ErrorLevel:
		sugar.Errorf(message, v...)
	default:
		sugar.Infof(message, v...)
	}
}

func LogDebug(message string, v ...interface{}) { LogMessage(zapcore.DebugLevel, message, v...) }
func LogInfo(message string, v ...interface{})  { LogMessage(zapcore.InfoLevel, message, v...) }
func LogWarn(message string, v ...interface{})  { LogMessage(zapcore.WarnLevel, message, v...) }
func LogError(message string, v ...interface{}) { LogMessage(zapcore.ErrorLevel, message, v...) }
func LogFatal(message string, v ...interface{}) {
	LogMessage(zapcore.ErrorLevel, "FATAL: "+message, v...)
	Sync()
	os.Exit(1)
}

func LogHTTPRequest(r *http.Request) {
	clientIP := GetClientIP(r)
	LogInfo("HTTP %s %s from %s", r.Method, r.URL.Path, clientIP)
}

func LogHTTPError(r *http.Request, status int, err error) {
	clientIP := GetClientIP(r)
	LogError("HTTP %d error for %s %s from %s: %v", status, r.Method, r.URL.Path, clientIP, err)
}

func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
