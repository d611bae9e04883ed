package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	logger   *stdlog.Logger
	once     sync.Once
	minLevel = LevelInfo

	sentryEnabled bool
)

// initLogger initializes the global logger to write to stderr.
func initLogger() {
	once.Do(func() {
		logger = stdlog.New(os.Stderr, "", 0)
	})
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects log lines to w.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()
}

// RotatingFile returns a size-rotated log file writer for the daemon.
// Callers usually pass it to SetOutput together with os.Stderr.
func RotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// EnableSentry makes Error also report to Sentry. An empty dsn is a no-op.
func EnableSentry(dsn, env string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	})
	if err != nil {
		return err
	}
	mu.Lock()
	sentryEnabled = true
	mu.Unlock()
	return nil
}

// Flush waits for buffered Sentry events, if Sentry is enabled.
func Flush() {
	mu.RLock()
	enabled := sentryEnabled
	mu.RUnlock()
	if enabled {
		sentry.Flush(2 * time.Second)
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)

	mu.RLock()
	report := sentryEnabled
	mu.RUnlock()
	if report && err != nil {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("message", msg)
			for i := 0; i+1 < len(kv); i += 2 {
				if key, ok := kv[i].(string); ok {
					scope.SetExtra(key, kv[i+1])
				}
			}
			sentry.CaptureException(err)
		})
	}
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()
	if !enabled(level) {
		return
	}

	ts := time.Now().Format(time.RFC3339Nano)

	// 2025-01-01T00:00:00Z [LEVEL] msg key=value ...
	line := ts + " [" + string(level) + "] " + msg
	if len(kv) > 0 {
		line += formatKVs(kv...)
	}

	mu.RLock()
	logger.Println(line)
	mu.RUnlock()
}

func enabled(level Level) bool {
	mu.RLock()
	floor := minLevel
	mu.RUnlock()
	return rank(level) >= rank(floor)
}

func rank(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 0
	}
}

func formatKVs(kv ...any) string {
	var b strings.Builder
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(kv[i+1]))
	}
	// If odd number of args, last one is ignored.
	return b.String()
}
